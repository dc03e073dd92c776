//go:build integration

//nolint:misspell // Mosquitto is the Eclipse project name
package mqtt_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/mqtt"
	"github.com/homeops/opswatch/internal/testutil/containers"
)

var broker *containers.MosquittoContainer

func TestMain(m *testing.M) {
	var err error
	broker, err = containers.NewMosquittoContainer(context.Background(), nil) //nolint:gocritic // no *testing.T in TestMain
	if err != nil {
		panic("failed to start MQTT broker: " + err.Error())
	}

	code := m.Run()

	_ = broker.Terminate(context.Background()) //nolint:gocritic // no *testing.T in TestMain
	os.Exit(code)
}

func connectedClient(t *testing.T, prefix string) mqtt.Client {
	t.Helper()

	client, err := mqtt.NewClient(conf.MQTTSettings{
		Enabled:     true,
		Broker:      broker.BrokerURL(),
		ClientID:    "opswatch-" + t.Name(),
		TopicPrefix: prefix,
		QoS:         1,
	}, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 15*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(client.Disconnect)
	return client
}

// subscribe listens on topic with a plain paho client.
func subscribe(t *testing.T, topic string) <-chan paho.Message {
	t.Helper()

	opts := paho.NewClientOptions().
		AddBroker(broker.BrokerURL()).
		SetClientID("verifier-" + t.Name()).
		SetConnectTimeout(10 * time.Second).
		SetCleanSession(true)
	sub := paho.NewClient(opts)
	token := sub.Connect()
	require.True(t, token.WaitTimeout(10*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { sub.Disconnect(250) })

	received := make(chan paho.Message, 8)
	token = sub.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		received <- msg
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	return received
}

func next(t *testing.T, ch <-chan paho.Message) paho.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for MQTT message")
		return nil
	}
}

func TestMQTTIntegration_ConnectAndDisconnect(t *testing.T) {
	client := connectedClient(t, "it/connect")
	assert.True(t, client.IsConnected())

	client.Disconnect()
	assert.False(t, client.IsConnected())
}

func TestMQTTIntegration_ReconnectCooldown(t *testing.T) {
	client := connectedClient(t, "it/cooldown")
	client.Disconnect()

	err := client.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection attempt too recent")
}

func TestMQTTIntegration_PublishWithCancelledContext(t *testing.T) {
	client := connectedClient(t, "it/cancel")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.Error(t, client.Publish(ctx, "it/cancel/x", "payload"))
}

func TestMQTTIntegration_BridgePublishesFiring(t *testing.T) {
	const prefix = "it/firings"
	received := subscribe(t, mqtt.FiringsTopic(prefix))
	bridge := mqtt.NewBridge(connectedClient(t, prefix), prefix, logger.NewNop())

	f := entities.AlertFiring{
		ID:         "4c1b0a7e-1d55-4c38-9a8e-0f7c5d3b9e21",
		RuleID:     "builtin-host-disk-high",
		RuleName:   "Host disk almost full",
		EntityID:   "host",
		EntityName: "nas01",
		Metric:     "disk_percent",
		Operator:   ">",
		Value:      91.4,
		Priority:   "critical",
		Status:     entities.FiringDegraded,
		FiredAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, bridge.PublishFiring(t.Context(), f))

	msg := next(t, received)
	var got entities.AlertFiring
	require.NoError(t, json.Unmarshal(msg.Payload(), &got))
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, entities.FiringDegraded, got.Status)
	assert.InDelta(t, 91.4, got.Value, 0.001)
}

func TestMQTTIntegration_EntityStateIsRetained(t *testing.T) {
	const prefix = "it/state"
	bridge := mqtt.NewBridge(connectedClient(t, prefix), prefix, logger.NewNop())

	require.NoError(t, bridge.PublishTransition(t.Context(), health.Transition{
		EntityID: "c-db",
		From:     health.StateRunningHealthy,
		To:       health.StateStopped,
		At:       time.Now().UTC(),
	}))

	// A subscriber arriving later still gets the current state.
	received := subscribe(t, mqtt.EntityStateTopic(prefix, "c-db"))
	msg := next(t, received)
	assert.True(t, msg.Retained())

	var got mqtt.StatePayload
	require.NoError(t, json.Unmarshal(msg.Payload(), &got))
	assert.Equal(t, health.StateStopped, got.State)
}

func TestMQTTIntegration_StatusOnlineThenOffline(t *testing.T) {
	const prefix = "it/status"
	client := connectedClient(t, prefix)

	received := subscribe(t, mqtt.StatusTopic(prefix))
	assert.Equal(t, mqtt.StatusOnline, string(next(t, received).Payload()))

	client.Disconnect()
	assert.Equal(t, mqtt.StatusOffline, string(next(t, received).Payload()))
}
