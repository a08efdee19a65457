package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime"
)

// statusSource is the part of the app the status endpoints read.
type statusSource interface {
	Status() realtime.Status
	MirrorStats() *mirrorStats
	MetricsHandler() http.Handler
}

type mirrorStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Connected bool   `json:"connected"`
}

type info struct {
	Service string          `json:"service"`
	Version string          `json:"version"`
	Status  realtime.Status `json:"status"`
	Mirror  *mirrorStats    `json:"mirror,omitempty"`
}

func (a *app) Status() realtime.Status { return a.client.Status() }

func (a *app) MirrorStats() *mirrorStats {
	if a.mirror == nil {
		return nil
	}
	published, dropped, failed := a.mirror.Stats()
	return &mirrorStats{
		Published: published,
		Dropped:   dropped,
		Failed:    failed,
		Connected: a.publisher != nil && a.publisher.Connected(),
	}
}

func (a *app) MetricsHandler() http.Handler { return a.metrics.Handler() }

func newStatusServer(addr string, src statusSource) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      statusHandler(src),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func statusHandler(src statusSource) http.Handler {
	mux := http.NewServeMux()

	// Health reflects the scoreboard connection
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if !src.Status().Online {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("OFFLINE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := info{
			Service: "scoreboard-sync",
			Version: Version,
			Status:  src.Status(),
			Mirror:  src.MirrorStats(),
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})

	mux.Handle("GET /metrics", src.MetricsHandler())

	// Overlays poll these endpoints from the browser
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}
