package transport

import (
	"encoding/json"
	"time"
)

// Message is the JSON envelope exchanged with the scoreboard server in both
// directions.
//
// Outbound requests carry Action, Args, TransactionID, ClientTimestamp and
// Latency. Inbound messages carrying a TransactionID are acknowledgements;
// everything else is a push event for the resource named by Action and
// identified by Args.
type Message struct {
	Action          string          `json:"action,omitempty"`
	Args            json.RawMessage `json:"args,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           *ErrorBody      `json:"error,omitempty"`
	TransactionID   string          `json:"transactionId,omitempty"`
	ClientTimestamp *time.Time      `json:"clientTimestamp,omitempty"`
	ServerTimestamp *time.Time      `json:"serverTimestamp,omitempty"`
	Latency         *int64          `json:"latency,omitempty"`
}

// IsAck reports whether the message acknowledges a request.
func (m *Message) IsAck() bool {
	return m.TransactionID != ""
}

// ErrorBody is the error envelope a server attaches to a failed request.
//
// Servers have used both {name, message} and {title, detail}; Kind and Detail
// normalize the two.
type ErrorBody struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Title   string `json:"title,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Kind returns the error classification reported by the server.
func (e *ErrorBody) Kind() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Title
}

// Description returns the human readable error detail reported by the server.
func (e *ErrorBody) Description() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Detail
}

// Encode marshals the message for the wire.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a message received from the wire.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
