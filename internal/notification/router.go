package notification

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/homeops/opswatch/internal/alerting"
	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/observability"
)

const (
	// maxAttempts is one attempt plus one immediate retry on a transient
	// failure.
	maxAttempts = 2

	errTimeout         = "timeout"
	errUnsupportedType = "unsupported channel type"
)

// Router fans a firing out to its channels.
type Router struct {
	senders map[string]Sender
	timeout time.Duration
	log     logger.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRouter creates a router over the given senders, keyed by Type().
func NewRouter(timeout time.Duration, log logger.Logger, metrics *observability.Metrics, senders ...Sender) *Router {
	r := &Router{
		senders: make(map[string]Sender, len(senders)),
		timeout: timeout,
		log:     log.Module("notification"),
		metrics: metrics,
		now:     time.Now,
	}
	for _, s := range senders {
		r.senders[s.Type()] = s
	}
	return r
}

// NewHTTPClient returns the resty client shared by the HTTP senders.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "opswatch")
}

// NewDefaultRouter wires the email, chat and webhook senders.
func NewDefaultRouter(cfg conf.NotificationSettings, log logger.Logger, metrics *observability.Metrics) *Router {
	client := NewHTTPClient(cfg.Timeout())
	return NewRouter(cfg.Timeout(), log, metrics,
		NewEmailSender(cfg.SMTP, nil),
		NewChatSender(client, nil),
		NewWebhookSender(client),
	)
}

type channelResult struct {
	index   int
	outcome entities.DeliveryOutcome
}

// Dispatch delivers the firing to every channel concurrently and returns one
// outcome per channel in channel order. Disabled channels are skipped. The
// whole dispatch is bounded by the router timeout; channels still pending
// then are failed with "timeout".
func (r *Router) Dispatch(ctx context.Context, f *alerting.Firing, channels []entities.NotificationChannel) []entities.DeliveryOutcome {
	msg := NewMessage(f)
	return r.dispatch(ctx, channels, msg)
}

func (r *Router) dispatch(ctx context.Context, channels []entities.NotificationChannel, msg Message) []entities.DeliveryOutcome {
	outcomes := make([]entities.DeliveryOutcome, len(channels))
	if len(channels) == 0 {
		return outcomes
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	attempts := make([]atomic.Int32, len(channels))
	results := make(chan channelResult, len(channels))
	pending := 0

	for i := range channels {
		ch := channels[i].Clone()
		outcomes[i] = entities.DeliveryOutcome{ChannelIndex: i, ChannelType: ch.Type}
		if !ch.Enabled {
			outcomes[i].Outcome = entities.OutcomeSkippedDisabled
			continue
		}
		pending++
		go func() {
			results <- channelResult{index: i, outcome: r.deliver(ctx, i, ch, msg, &attempts[i])}
		}()
	}

	resolved := make([]bool, len(channels))
	for pending > 0 {
		select {
		case res := <-results:
			outcomes[res.index] = res.outcome
			resolved[res.index] = true
			pending--
		case <-ctx.Done():
			for i := range channels {
				if channels[i].Enabled && !resolved[i] {
					outcomes[i].Outcome = entities.OutcomeFailed
					outcomes[i].Error = errTimeout
					outcomes[i].Attempts = int(attempts[i].Load())
				}
			}
			return outcomes
		}
	}
	return outcomes
}

// TestChannel sends a synthetic message through the same delivery path,
// including the retry and the timeout.
func (r *Router) TestChannel(ctx context.Context, ch entities.NotificationChannel) entities.DeliveryOutcome {
	ch.Enabled = true
	return r.dispatch(ctx, []entities.NotificationChannel{ch}, TestMessage(&ch, r.now()))[0]
}

// attemptContext bounds every attempt but the last to half of the budget
// left, so a first attempt that times out still leaves room for the retry.
func attemptContext(ctx context.Context, attempt int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || attempt >= maxAttempts {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)/2)
}

func (r *Router) deliver(ctx context.Context, index int, ch entities.NotificationChannel, msg Message, attempts *atomic.Int32) entities.DeliveryOutcome {
	out := entities.DeliveryOutcome{ChannelIndex: index, ChannelType: ch.Type}
	start := time.Now()

	sender, ok := r.senders[ch.Type]
	if !ok {
		out.Outcome = entities.OutcomeFailed
		out.Error = errUnsupportedType
		r.metrics.Delivery(ch.Type, out.Outcome, 0)
		return out
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts.Store(int32(attempt))
		attemptCtx, cancel := attemptContext(ctx, attempt)
		err = sender.Send(attemptCtx, ch, msg)
		attemptTimedOut := err != nil && attemptCtx.Err() != nil
		cancel()
		if err == nil || ctx.Err() != nil || !(IsTransient(err) || attemptTimedOut) {
			break
		}
		r.log.Debug("retrying notification delivery",
			logger.String("channel_type", ch.Type),
			logger.Int("channel_index", index),
			logger.Error(err))
	}
	out.Attempts = int(attempts.Load())

	if err != nil {
		out.Outcome = entities.OutcomeFailed
		out.Error = err.Error()
		if ctx.Err() != nil {
			out.Error = errTimeout
		}
		r.log.Warn("notification delivery failed",
			logger.String("channel_type", ch.Type),
			logger.Int("channel_index", index),
			logger.Int("attempts", out.Attempts),
			logger.Error(err))
	} else {
		out.Outcome = entities.OutcomeSent
	}
	r.metrics.Delivery(ch.Type, out.Outcome, time.Since(start))
	return out
}
