package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homeops/opswatch/internal/alerting"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/notification"
)

type channelTestFlags struct {
	typ     string
	url     string
	address string
}

func newChannelCommand(flags *globalFlags) *cobra.Command {
	channel := &cobra.Command{
		Use:   "channel",
		Short: "Work with notification channels",
	}

	tf := &channelTestFlags{}
	test := &cobra.Command{
		Use:   "test",
		Short: "Send a test notification through one channel",
		Example: `  opswatch channel test --type email --address ops@example.net
  opswatch channel test --type chat-webhook --url ntfy://ntfy.sh/opswatch
  opswatch channel test --type generic-webhook --url https://hooks.example.net/opswatch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChannelTest(cmd.Context(), cmd, flags, tf)
		},
	}
	test.Flags().StringVar(&tf.typ, "type", "", "channel type (email, chat-webhook, generic-webhook)")
	test.Flags().StringVar(&tf.url, "url", "", "webhook or shoutrrr URL")
	test.Flags().StringVar(&tf.address, "address", "", "email recipient")
	_ = test.MarkFlagRequired("type")

	channel.AddCommand(test)
	return channel
}

func runChannelTest(ctx context.Context, cmd *cobra.Command, flags *globalFlags, tf *channelTestFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	settings, log, err := flags.load()
	if err != nil {
		return err
	}

	ch := entities.NotificationChannel{Type: tf.typ, URL: tf.url, Address: tf.address, Enabled: true}
	alerting.NormalizeChannel(&ch)
	if err := alerting.ValidateChannel(&ch); err != nil {
		return err
	}

	router := notification.NewDefaultRouter(settings.Notification, log, nil)
	out := router.TestChannel(ctx, ch)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if out.Outcome != entities.OutcomeSent {
		return fmt.Errorf("test notification failed: %s", out.Error)
	}
	return nil
}
