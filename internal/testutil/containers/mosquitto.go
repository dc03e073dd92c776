//go:build integration

//nolint:misspell // Mosquitto is the Eclipse project name
package containers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoPort = "1883/tcp"

// anonymousMosquittoConf lets any client connect without credentials.
const anonymousMosquittoConf = `listener 1883
allow_anonymous true
persistence false
`

// MosquittoConfig configures NewMosquittoContainer.
type MosquittoConfig struct {
	ImageTag string
}

// MosquittoContainer is a running MQTT broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// NewMosquittoContainer starts a broker accepting anonymous clients.
func NewMosquittoContainer(ctx context.Context, cfg *MosquittoConfig) (*MosquittoContainer, error) {
	tag := "2.0"
	if cfg != nil && cfg.ImageTag != "" {
		tag = cfg.ImageTag
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:" + tag,
			ExposedPorts: []string{mosquittoPort},
			Files: []testcontainers.ContainerFile{{
				Reader:            strings.NewReader(anonymousMosquittoConf),
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort(mosquittoPort).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start mosquitto container: %w", err)
	}

	endpoint, err := ctr.PortEndpoint(ctx, mosquittoPort, "tcp")
	if err != nil {
		_ = ctr.Terminate(context.Background())
		return nil, fmt.Errorf("mosquitto endpoint: %w", err)
	}
	return &MosquittoContainer{container: ctr, brokerURL: endpoint}, nil
}

// BrokerURL returns a tcp:// URL for paho.
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// Terminate removes the container.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
