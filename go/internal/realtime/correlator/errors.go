package correlator

import (
	"errors"
	"fmt"
)

// ErrConnectionLost is returned to every caller whose request was pending when
// the connection dropped, and to callers sending while offline.
var ErrConnectionLost = errors.New("connection lost")

// ErrRequestFailed is matched by every RequestError through errors.Is.
var ErrRequestFailed = errors.New("request failed")

// RequestError carries the error envelope the server returned for a request.
type RequestError struct {
	Action string
	Kind   string
	Detail string
}

func (e *RequestError) Error() string {
	switch {
	case e.Kind != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Action, e.Kind, e.Detail)
	case e.Kind != "":
		return fmt.Sprintf("%s: %s", e.Action, e.Kind)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Action, e.Detail)
	}
	return fmt.Sprintf("%s: request failed", e.Action)
}

func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}
