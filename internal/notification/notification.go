// Package notification delivers rule firings to email, chat and webhook
// channels.
package notification

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/homeops/opswatch/internal/alerting"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/errors"
)

// Message is the rendered notification for one firing.
type Message struct {
	Title    string
	Body     string
	Priority string
	// Firing is nil for channel tests.
	Firing *alerting.Firing
}

// Sender delivers messages for one channel type.
type Sender interface {
	Type() string
	Send(ctx context.Context, ch entities.NotificationChannel, msg Message) error
}

// TransportError is a retryable delivery failure: a timeout, a connection
// error or an HTTP 5xx response.
type TransportError struct {
	Err        error
	StatusCode int
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth one more attempt.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// classifyHTTP maps an HTTP result to nil, a TransportError or a permanent
// error.
func classifyHTTP(component string, status int, body []byte, err error) error {
	if err != nil {
		cat := errors.CategoryNetwork
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			cat = errors.CategoryTimeout
		}
		return &TransportError{Err: errors.New(err).Component(component).Category(cat).Build()}
	}
	switch {
	case status >= http.StatusInternalServerError:
		return &TransportError{
			StatusCode: status,
			Err: errors.Newf("server returned %d: %s", status, truncate(string(body), 200)).
				Component(component).
				Category(errors.CategoryNetwork).
				Context("status", status).
				Build(),
		}
	case status >= http.StatusBadRequest:
		return errors.Newf("request rejected with %d: %s", status, truncate(string(body), 200)).
			Component(component).
			Category(errors.CategoryValidation).
			Context("status", status).
			Build()
	default:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func configError(component, msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component(component).
		Category(errors.CategoryConfiguration).
		Build()
}
