package notification

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/homeops/opswatch/internal/datastore/entities"
)

// ChatSender posts to chat services. http(s) URLs receive a Slack compatible
// {"text": ...} payload; any other scheme is treated as a shoutrrr service
// URL (slack://, discord://, telegram://, ntfy://, ...).
type ChatSender struct {
	client *resty.Client
	send   ShoutrrrFunc
}

// NewChatSender creates a chat sender. A nil send uses SendShoutrrr.
func NewChatSender(client *resty.Client, send ShoutrrrFunc) *ChatSender {
	if send == nil {
		send = SendShoutrrr
	}
	return &ChatSender{client: client, send: send}
}

func (s *ChatSender) Type() string { return entities.ChannelChatWebhook }

type chatPayload struct {
	Text string `json:"text"`
}

func (s *ChatSender) Send(ctx context.Context, ch entities.NotificationChannel, msg Message) error {
	if ch.URL == "" {
		return configError("chat", "chat channel has no url")
	}
	if !isHTTPURL(ch.URL) {
		return s.send(ctx, ch.URL, msg.Title, msg.Body)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(chatPayload{Text: "*" + msg.Title + "*\n" + msg.Body}).
		Post(ch.URL)
	if err != nil {
		return classifyHTTP("chat", 0, nil, err)
	}
	return classifyHTTP("chat", resp.StatusCode(), resp.Body(), nil)
}

func isHTTPURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
