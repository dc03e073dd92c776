package runtime

type cpuCounters struct {
	total  uint64
	system uint64
}

type containerStats struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage  uint64   `json:"total_usage"`
			PercpuUsage []uint64 `json:"percpu_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint64 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64            `json:"usage"`
		Limit uint64            `json:"limit"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
}

// normalizeStats turns Engine stats into metric values. Memory excludes the
// page cache (cgroup v1 "cache", cgroup v2 "inactive_file"), matching what
// `docker stats` shows. Disk usage is not reported for containers.
func normalizeStats(s containerStats) map[string]float64 {
	values := make(map[string]float64, 5)

	sysDelta := float64(s.CPUStats.SystemCPUUsage) - float64(s.PreCPUStats.SystemCPUUsage)
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
		if cpus == 0 {
			cpus = 1
		}
	}
	if sysDelta > 0 && cpuDelta >= 0 {
		values[MetricCPUPercent] = (cpuDelta / sysDelta) * cpus * 100
	}

	used := s.MemoryStats.Usage
	cache := s.MemoryStats.Stats["cache"]
	if v, ok := s.MemoryStats.Stats["inactive_file"]; ok {
		cache = v
	}
	if cache < used {
		used -= cache
	}
	if s.MemoryStats.Usage > 0 {
		values[MetricMemoryBytes] = float64(used)
	}
	if s.MemoryStats.Limit > 0 && s.MemoryStats.Usage > 0 {
		values[MetricMemoryPercent] = float64(used) / float64(s.MemoryStats.Limit) * 100
	}

	if s.Networks != nil {
		var rx, tx uint64
		for _, n := range s.Networks {
			rx += n.RxBytes
			tx += n.TxBytes
		}
		values[MetricNetworkRxBytes] = float64(rx)
		values[MetricNetworkTxBytes] = float64(tx)
	}
	return values
}
