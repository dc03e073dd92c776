package notification

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/homeops/opswatch/internal/datastore/entities"
)

// WebhookSender posts the firing as JSON to an arbitrary endpoint.
type WebhookSender struct {
	client *resty.Client
}

func NewWebhookSender(client *resty.Client) *WebhookSender {
	return &WebhookSender{client: client}
}

func (s *WebhookSender) Type() string { return entities.ChannelGenericWebhook }

// WebhookPayload is the body posted to generic webhooks.
type WebhookPayload struct {
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Priority   string    `json:"priority"`
	Test       bool      `json:"test"`
	FiringID   string    `json:"firing_id,omitempty"`
	RuleID     string    `json:"rule_id,omitempty"`
	RuleName   string    `json:"rule_name,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	EntityName string    `json:"entity_name,omitempty"`
	Metric     string    `json:"metric,omitempty"`
	Operator   string    `json:"operator,omitempty"`
	Value      string    `json:"value,omitempty"`
	Threshold  string    `json:"threshold,omitempty"`
	FiredAt    time.Time `json:"fired_at"`
}

func newWebhookPayload(msg Message) WebhookPayload {
	p := WebhookPayload{
		Title:    msg.Title,
		Message:  msg.Body,
		Priority: msg.Priority,
		Test:     msg.Firing == nil,
		FiredAt:  time.Now().UTC(),
	}
	if f := msg.Firing; f != nil {
		p.Test = f.Test
		p.FiringID = f.ID
		p.RuleID = f.Rule.ID
		p.RuleName = f.Rule.Name
		p.EntityID = f.EntityID
		p.EntityName = f.EntityName
		p.Metric = f.Rule.Metric
		p.Operator = f.Rule.Operator
		p.Value = f.ValueString()
		p.Threshold = f.ThresholdString()
		p.FiredAt = f.At.UTC()
	}
	return p
}

func (s *WebhookSender) Send(ctx context.Context, ch entities.NotificationChannel, msg Message) error {
	if ch.URL == "" {
		return configError("webhook", "webhook channel has no url")
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(newWebhookPayload(msg))
	for k, v := range ch.Headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(ch.URL)
	if err != nil {
		return classifyHTTP("webhook", 0, nil, err)
	}
	return classifyHTTP("webhook", resp.StatusCode(), resp.Body(), nil)
}
