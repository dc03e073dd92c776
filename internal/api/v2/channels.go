package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/labstack/echo/v4"

	"github.com/homeops/opswatch/internal/datastore/entities"
)

// ntfyServerCheckTimeout is the per-scheme timeout for the connectivity probe.
const ntfyServerCheckTimeout = 5 * time.Second

// blockedNtfyHosts are cloud metadata addresses that must not be probed.
var blockedNtfyHosts = []string{
	"169.254.169.254",
	"fd00:ec2::254",
}

// hostnameLabelPattern validates a single DNS label (RFC 1123).
var hostnameLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)

func (c *Controller) initChannelRoutes() {
	channels := c.Group.Group("/channels")
	channels.POST("/test", c.TestChannel)
	channels.GET("/check-ntfy-server", c.CheckNtfyServer)
}

// TestChannel sends a synthetic notification through one channel and
// reports the outcome. A failed delivery is still a 200; the outcome says
// what went wrong.
func (c *Controller) TestChannel(ctx echo.Context) error {
	var ch entities.NotificationChannel
	if err := ctx.Bind(&ch); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	out, err := c.monitor.TestChannel(ctx.Request().Context(), ch)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to test channel", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, out)
}

// NtfyServerCheckResponse is the JSON response for the ntfy server check.
type NtfyServerCheckResponse struct {
	Recommended string `json:"recommended"` // "https", "http", or "unreachable"
	HTTPS       bool   `json:"https"`
	HTTP        bool   `json:"http"`
}

// CheckNtfyServer probes an ntfy host so a chat channel can be given the
// right ntfy:// URL. HTTPS is tried first.
// GET /api/v2/channels/check-ntfy-server?host=<hostname[:port]>
func (c *Controller) CheckNtfyServer(ctx echo.Context) error {
	host := ctx.QueryParam("host")
	if host == "" {
		return badRequest(ctx, "host parameter is required")
	}
	if !isValidNtfyHost(host) {
		return badRequest(ctx, "invalid host parameter")
	}
	return ctx.JSON(http.StatusOK, probeNtfyServer(ctx.Request().Context(), host))
}

// isValidNtfyHost accepts a bare hostname or IP with an optional port.
func isValidNtfyHost(host string) bool {
	if host == "" || len(host) > 260 {
		return false
	}
	if strings.Contains(host, "://") {
		return false
	}

	hostOnly := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostOnly = h
	}
	hostOnly = strings.TrimPrefix(strings.TrimSuffix(hostOnly, "]"), "[")
	if slices.Contains(blockedNtfyHosts, hostOnly) {
		return false
	}

	if h, port, err := net.SplitHostPort(host); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return false
		}
		return isValidHostname(h)
	}
	return isValidHostname(host)
}

func isValidHostname(h string) bool {
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		return net.ParseIP(h[1:len(h)-1]) != nil
	}
	if net.ParseIP(h) != nil {
		return true
	}
	for _, label := range strings.Split(h, ".") {
		if !hostnameLabelPattern.MatchString(label) {
			return false
		}
	}
	return true
}

type ntfyHealth struct {
	Healthy *bool `json:"healthy"`
}

// isNtfyHealthResponse requires a 200 with {"healthy": true}, so an
// unrelated web server on the same port is not mistaken for ntfy.
func isNtfyHealthResponse(resp *resty.Response) bool {
	if resp.StatusCode() != http.StatusOK {
		return false
	}
	body := resp.Body()
	if len(body) > 1024 {
		return false
	}
	var h ntfyHealth
	if err := json.Unmarshal(body, &h); err != nil {
		return false
	}
	return h.Healthy != nil && *h.Healthy
}

func probeNtfyServer(ctx context.Context, host string) NtfyServerCheckResponse {
	resp := NtfyServerCheckResponse{Recommended: "unreachable"}

	hostForURL := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			hostForURL = "[" + host + "]"
		}
	}

	client := resty.New().
		SetTimeout(ntfyServerCheckTimeout).
		SetRedirectPolicy(resty.NoRedirectPolicy())

	tryURL := func(rawURL string) bool {
		r, err := client.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			return false
		}
		return isNtfyHealthResponse(r)
	}

	if tryURL("https://" + hostForURL + "/v1/health") {
		resp.HTTPS = true
		resp.Recommended = "https"
		return resp
	}
	if tryURL("http://" + hostForURL + "/v1/health") {
		resp.HTTP = true
		resp.Recommended = "http"
	}
	return resp
}
