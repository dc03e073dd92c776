package notification

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
)

// EmailSender delivers through the configured SMTP server via shoutrrr.
type EmailSender struct {
	smtp conf.SMTPSettings
	send ShoutrrrFunc
}

// NewEmailSender creates an email sender. A nil send uses SendShoutrrr.
func NewEmailSender(smtp conf.SMTPSettings, send ShoutrrrFunc) *EmailSender {
	if send == nil {
		send = SendShoutrrr
	}
	return &EmailSender{smtp: smtp, send: send}
}

func (s *EmailSender) Type() string { return entities.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, ch entities.NotificationChannel, msg Message) error {
	serviceURL, err := s.serviceURL(ch.Address, msg.Title)
	if err != nil {
		return err
	}
	return s.send(ctx, serviceURL, "", msg.Body)
}

// serviceURL builds the shoutrrr smtp URL for the given recipients.
func (s *EmailSender) serviceURL(addresses, subject string) (string, error) {
	if s.smtp.Host == "" {
		return "", configError("email", "smtp server is not configured")
	}
	if s.smtp.From == "" {
		return "", configError("email", "smtp from address is not configured")
	}
	recipients := splitAddresses(addresses)
	if len(recipients) == 0 {
		return "", configError("email", "no recipient addresses")
	}

	u := url.URL{
		Scheme: "smtp",
		Host:   s.smtp.Host + ":" + strconv.Itoa(s.smtp.Port),
		Path:   "/",
	}
	if s.smtp.Username != "" {
		u.User = url.UserPassword(s.smtp.Username, s.smtp.Password)
	}
	q := url.Values{}
	q.Set("fromaddress", s.smtp.From)
	q.Set("toaddresses", strings.Join(recipients, ","))
	q.Set("subject", subject)
	if s.smtp.Encryption != "" {
		q.Set("encryption", s.smtp.Encryption)
	}
	if s.smtp.Username == "" {
		q.Set("auth", "None")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
