package runtime

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/homeops/opswatch/internal/errors"
)

const dockerSource = "docker"

// Docker reads containers from the Docker Engine API over a unix socket.
type Docker struct {
	client *resty.Client

	mu      sync.Mutex
	prevCPU map[string]cpuCounters
}

type containerSummary struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	Image  string            `json:"Image"`
	State  string            `json:"State"`
	Labels map[string]string `json:"Labels"`
}

type containerInspect struct {
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	RestartCount int    `json:"RestartCount"`
	State        struct {
		Status  string `json:"Status"`
		Running bool   `json:"Running"`
		Health  *struct {
			Status string `json:"Status"`
		} `json:"Health"`
	} `json:"State"`
}

// NewDocker creates a client for the Engine listening on socketPath.
func NewDocker(socketPath string) *Docker {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    8,
		IdleConnTimeout: 30 * time.Second,
	}
	client := resty.New().
		SetTransport(transport).
		SetBaseURL("http://docker").
		SetHeader("Accept", "application/json")
	return &Docker{client: client, prevCPU: make(map[string]cpuCounters)}
}

func (d *Docker) Name() string { return dockerSource }

// Ping checks that the Engine is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	return d.get(ctx, "/_ping", nil)
}

// ListEntities returns every container, running or not.
func (d *Docker) ListEntities(ctx context.Context) ([]EntityRef, error) {
	var containers []containerSummary
	if err := d.get(ctx, "/containers/json?all=1", &containers); err != nil {
		return nil, err
	}
	refs := make([]EntityRef, 0, len(containers))
	for _, c := range containers {
		name := containerName(c.Names, c.ID)
		refs = append(refs, EntityRef{
			ID:        name,
			Name:      name,
			Kind:      KindContainer,
			Source:    dockerSource,
			RuntimeID: c.ID,
		})
	}
	return refs, nil
}

// SampleMetrics inspects the container and, when it runs, reads one-shot
// stats. One-shot stats carry no precpu block, so CPU percent is computed
// against the counters of the previous sample. Stopped containers report state
// only.
func (d *Docker) SampleMetrics(ctx context.Context, ref EntityRef) (RawSample, error) {
	inspect, err := d.inspect(ctx, ref)
	if err != nil {
		return RawSample{}, err
	}

	sample := RawSample{
		Running: inspect.State.Running,
		State:   inspect.State.Status,
		Health:  HealthNone,
		Values:  map[string]float64{MetricRestartCount: float64(inspect.RestartCount)},
		At:      time.Now(),
	}
	if inspect.State.Health != nil && inspect.State.Health.Status != "" {
		sample.Health = inspect.State.Health.Status
	}
	if !sample.Running {
		d.forgetCPU(ref.RuntimeID)
		return sample, nil
	}

	var stats containerStats
	if err := d.get(ctx, "/containers/"+ref.RuntimeID+"/stats?stream=false&one-shot=true", &stats); err != nil {
		return RawSample{}, err
	}
	d.fillPreCPU(ref.RuntimeID, &stats)
	for k, v := range normalizeStats(stats) {
		sample.Values[k] = v
	}
	return sample, nil
}

// GetRestartCount returns the Engine's restart counter for the container.
func (d *Docker) GetRestartCount(ctx context.Context, ref EntityRef) (int, error) {
	inspect, err := d.inspect(ctx, ref)
	if err != nil {
		return 0, err
	}
	return inspect.RestartCount, nil
}

// fillPreCPU substitutes the previous sample's counters when the Engine sent
// no precpu block and remembers the current ones. Without a previous sample
// the delta is zero and no CPU value is reported.
func (d *Docker) fillPreCPU(id string, s *containerStats) {
	cur := cpuCounters{total: s.CPUStats.CPUUsage.TotalUsage, system: s.CPUStats.SystemCPUUsage}

	d.mu.Lock()
	prev, ok := d.prevCPU[id]
	d.prevCPU[id] = cur
	d.mu.Unlock()

	if s.PreCPUStats.SystemCPUUsage != 0 {
		return
	}
	if !ok || prev.system > cur.system || prev.total > cur.total {
		prev = cur
	}
	s.PreCPUStats.CPUUsage.TotalUsage = prev.total
	s.PreCPUStats.SystemCPUUsage = prev.system
}

func (d *Docker) forgetCPU(id string) {
	d.mu.Lock()
	delete(d.prevCPU, id)
	d.mu.Unlock()
}

func (d *Docker) inspect(ctx context.Context, ref EntityRef) (containerInspect, error) {
	var out containerInspect
	id := ref.RuntimeID
	if id == "" {
		id = ref.ID
	}
	if err := d.get(ctx, "/containers/"+id+"/json", &out); err != nil {
		return containerInspect{}, err
	}
	return out, nil
}

func (d *Docker) get(ctx context.Context, path string, result any) error {
	req := d.client.R().SetContext(ctx)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Get(path)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			category = errors.CategoryTimeout
		}
		return errors.Newf("docker api GET %s failed: %w", path, err).
			Component("runtime").
			Category(category).
			Build()
	}
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		if msg == "" {
			msg = resp.Status()
		}
		category := errors.CategoryNetwork
		if resp.StatusCode() == http.StatusNotFound {
			category = errors.CategoryNotFound
		}
		return errors.Newf("docker api GET %s failed: %s", path, msg).
			Component("runtime").
			Category(category).
			Context("status", resp.StatusCode()).
			Build()
	}
	return nil
}

func containerName(names []string, id string) string {
	for _, n := range names {
		n = strings.TrimPrefix(n, "/")
		if n != "" && !strings.Contains(n, "/") {
			return n
		}
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ Runtime = (*Docker)(nil)
