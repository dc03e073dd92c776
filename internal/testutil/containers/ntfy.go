//go:build integration

package containers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

const ntfyPort = "80/tcp"

// NtfyConfig configures NewNtfyContainer.
type NtfyConfig struct {
	ImageTag string
	// EnableAuth turns on the user database with deny-all default access.
	EnableAuth bool
}

// DefaultNtfyConfig returns an anonymous server on the latest image.
func DefaultNtfyConfig() NtfyConfig {
	return NtfyConfig{ImageTag: "latest"}
}

// NtfyMessage is one cached message returned by a poll.
type NtfyMessage struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// NtfyContainer is a running ntfy server, used as a real chat webhook
// target.
type NtfyContainer struct {
	container testcontainers.Container
	host      string
	auth      bool
	http      *resty.Client
}

// NewNtfyContainer starts ntfy with a message cache so sent notifications
// can be polled back.
func NewNtfyContainer(ctx context.Context, cfg *NtfyConfig) (*NtfyContainer, error) {
	c := DefaultNtfyConfig()
	if cfg != nil {
		c = *cfg
		if c.ImageTag == "" {
			c.ImageTag = "latest"
		}
	}

	req := testcontainers.ContainerRequest{
		Image:        "binwiederhier/ntfy:" + c.ImageTag,
		ExposedPorts: []string{ntfyPort},
		Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
		Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
		WaitingFor:   wait.ForHTTP("/v1/health").WithPort(ntfyPort).WithStartupTimeout(30 * time.Second),
	}
	if c.EnableAuth {
		req.Env = map[string]string{
			"NTFY_AUTH_FILE":           "/tmp/ntfy/auth.db",
			"NTFY_AUTH_DEFAULT_ACCESS": "deny-all",
		}
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start ntfy container: %w", err)
	}

	host, err := ctr.PortEndpoint(ctx, ntfyPort, "")
	if err != nil {
		_ = ctr.Terminate(context.Background())
		return nil, fmt.Errorf("ntfy endpoint: %w", err)
	}

	return &NtfyContainer{
		container: ctr,
		host:      host,
		auth:      c.EnableAuth,
		http:      resty.New().SetTimeout(10 * time.Second).SetBaseURL("http://" + host),
	}, nil
}

// GetHost returns host:port of the server.
func (c *NtfyContainer) GetHost(context.Context) string {
	return c.host
}

// GetURL returns the server's base URL.
func (c *NtfyContainer) GetURL(context.Context) string {
	return "http://" + c.host
}

// AddUser creates a user. Requires EnableAuth.
func (c *NtfyContainer) AddUser(ctx context.Context, username, password string) error {
	return c.exec(ctx, []string{"ntfy", "user", "add", username}, tcexec.WithEnv([]string{"NTFY_PASSWORD=" + password}))
}

// GrantAccess gives username "ro", "wo" or "rw" permission on topic.
// Requires EnableAuth.
func (c *NtfyContainer) GrantAccess(ctx context.Context, username, topic, permission string) error {
	return c.exec(ctx, []string{"ntfy", "access", username, topic, permission})
}

func (c *NtfyContainer) exec(ctx context.Context, cmd []string, opts ...tcexec.ProcessOption) error {
	if !c.auth {
		return fmt.Errorf("%s: authentication is not enabled", strings.Join(cmd[:2], " "))
	}
	code, out, err := c.container.Exec(ctx, cmd, opts...)
	if err != nil {
		return fmt.Errorf("exec %s: %w", strings.Join(cmd, " "), err)
	}
	if code != 0 {
		msg, _ := io.ReadAll(out)
		return fmt.Errorf("%s exited %d: %s", strings.Join(cmd[:2], " "), code, msg)
	}
	return nil
}

// PollMessages returns the cached messages of topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	return c.poll(ctx, topic, "", "")
}

// PollMessagesWithAuth polls topic with basic auth.
func (c *NtfyContainer) PollMessagesWithAuth(ctx context.Context, topic, username, password string) ([]NtfyMessage, error) {
	return c.poll(ctx, topic, username, password)
}

func (c *NtfyContainer) poll(ctx context.Context, topic, username, password string) ([]NtfyMessage, error) {
	req := c.http.R().SetContext(ctx).SetQueryParam("poll", "1")
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := req.Get("/" + topic + "/json")
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", topic, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("poll %s: HTTP %d: %s", topic, resp.StatusCode(), resp.String())
	}

	// One JSON object per line.
	var messages []NtfyMessage
	scanner := bufio.NewScanner(strings.NewReader(resp.String()))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg NtfyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("decode ntfy message: %w", err)
		}
		if msg.Event != "" && msg.Event != "message" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}

// Terminate removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
