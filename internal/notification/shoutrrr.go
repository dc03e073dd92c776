package notification

import (
	"context"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/homeops/opswatch/internal/errors"
)

// ShoutrrrFunc delivers one message to a shoutrrr service URL.
type ShoutrrrFunc func(ctx context.Context, serviceURL, title, body string) error

// SendShoutrrr is the ShoutrrrFunc backed by the shoutrrr router. An invalid
// service URL is a permanent error; delivery failures are transient.
func SendShoutrrr(ctx context.Context, serviceURL, title, body string) error {
	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		// The URL may carry credentials, so it is not echoed back.
		return errors.Newf("invalid service url: %w", err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	params := types.Params{}
	if title != "" {
		params["title"] = title
	}

	done := make(chan []error, 1)
	go func() {
		done <- sender.Send(body, &params)
	}()

	select {
	case errs := <-done:
		var failed []error
		for _, e := range errs {
			if e != nil {
				failed = append(failed, e)
			}
		}
		if len(failed) > 0 {
			return &TransportError{Err: errors.Join(failed...)}
		}
		return nil
	case <-ctx.Done():
		return &TransportError{Err: ctx.Err()}
	}
}
