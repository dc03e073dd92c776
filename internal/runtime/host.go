package runtime

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/errors"
)

const hostSource = "host"

// Host reports the local machine as a single entity.
type Host struct {
	ref      EntityRef
	diskPath string
	network  bool
}

// NewHost builds the host runtime. An empty name falls back to the hostname.
func NewHost(cfg conf.HostSettings) *Host {
	name := cfg.Name
	if name == "" {
		if hn, err := os.Hostname(); err == nil && hn != "" {
			name = hn
		} else {
			name = "host"
		}
	}
	diskPath := cfg.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	return &Host{
		ref: EntityRef{
			ID:     "host",
			Name:   name,
			Kind:   KindHost,
			Source: hostSource,
		},
		diskPath: diskPath,
		network:  cfg.Network,
	}
}

func (h *Host) Name() string { return hostSource }

func (h *Host) ListEntities(context.Context) ([]EntityRef, error) {
	return []EntityRef{h.ref}, nil
}

// SampleMetrics reads CPU, memory, disk and network counters. Individual
// metric failures leave that metric missing; only a total failure is an error.
func (h *Host) SampleMetrics(ctx context.Context, _ EntityRef) (RawSample, error) {
	values := make(map[string]float64, 6)
	var firstErr error

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		values[MetricCPUPercent] = pct[0]
	} else if err != nil {
		firstErr = err
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		values[MetricMemoryPercent] = vm.UsedPercent
		values[MetricMemoryBytes] = float64(vm.Used)
	} else if firstErr == nil {
		firstErr = err
	}

	if du, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		values[MetricDiskPercent] = du.UsedPercent
	} else if firstErr == nil {
		firstErr = err
	}

	if h.network {
		if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
			values[MetricNetworkRxBytes] = float64(counters[0].BytesRecv)
			values[MetricNetworkTxBytes] = float64(counters[0].BytesSent)
		} else if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(values) == 0 && firstErr != nil {
		return RawSample{}, errors.Newf("failed to read host metrics: %w", firstErr).
			Component("runtime").
			Category(errors.CategorySystem).
			Build()
	}

	values[MetricRestartCount] = 0
	return RawSample{
		Running: true,
		State:   StateRunning,
		Health:  HealthNone,
		Values:  values,
		At:      time.Now(),
	}, nil
}

// GetRestartCount is always zero for the host.
func (h *Host) GetRestartCount(context.Context, EntityRef) (int, error) {
	return 0, nil
}

var _ Runtime = (*Host)(nil)
