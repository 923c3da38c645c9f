package feature

import (
	"math"
	"sort"
	"sync"
	"time"
)

// FeatureStats 单个特征的使用统计
type FeatureStats struct {
	FeatureName    string    `json:"feature"`
	Column         string    `json:"column"`
	PresentCount   int64     `json:"present"`
	MissingCount   int64     `json:"missing"`
	InvalidCount   int64     `json:"invalid"`
	Mean           float64   `json:"mean"`
	Std            float64   `json:"std"`
	Min            float64   `json:"min"`
	Max            float64   `json:"max"`
	P50            float64   `json:"p50"`
	P95            float64   `json:"p95"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// MemoryFeatureMonitor 是内存特征监控实现，统计每个临床特征的提供率、无效率与取值分布。
// 进程重启后数据丢失。
type MemoryFeatureMonitor struct {
	mu         sync.RWMutex
	stats      [Size]FeatureStats
	values     [Size][]float64 // 最近的样本值，用于计算分布
	maxSamples int
	requests   int64
}

// NewMemoryFeatureMonitor 创建内存特征监控，maxSamples 为每个特征保留的最大样本数
func NewMemoryFeatureMonitor(maxSamples int) *MemoryFeatureMonitor {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	m := &MemoryFeatureMonitor{maxSamples: maxSamples}
	for i := range Keys {
		m.stats[i].FeatureName = string(Keys[i])
		m.stats[i].Column = Columns[i]
	}
	return m
}

// Record 记录一次 metadata 的映射结果
func (m *MemoryFeatureMonitor) Record(meta *ClinicalMetadata) {
	if meta == nil {
		return
	}
	vec := meta.Vector()
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	for i, state := range meta.States {
		s := &m.stats[i]
		s.LastUpdateTime = now
		switch state {
		case ValueMissing:
			s.MissingCount++
		case ValueInvalid:
			s.InvalidCount++
		default:
			s.PresentCount++
			values := m.values[i]
			if len(values) >= m.maxSamples {
				values = values[1:]
			}
			m.values[i] = append(values, vec[i])
		}
	}
}

// Requests 返回已记录的 metadata 请求数
func (m *MemoryFeatureMonitor) Requests() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests
}

// Snapshot 返回按固定特征顺序排列的统计副本
func (m *MemoryFeatureMonitor) Snapshot() []FeatureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeatureStats, Size)
	for i := range out {
		out[i] = m.stats[i]
		if len(m.values[i]) == 0 {
			continue
		}
		computed := ComputeStatistics(m.values[i])
		out[i].Mean = computed.Mean
		out[i].Std = computed.Std
		out[i].Min = computed.Min
		out[i].Max = computed.Max
		out[i].P50 = computed.Median
		out[i].P95 = computed.P95
	}
	return out
}

// FeatureStatistics 一组样本的统计量
type FeatureStatistics struct {
	Mean   float64
	Std    float64
	Min    float64
	Max    float64
	Median float64
	P95    float64
}

// ComputeStatistics 计算均值、总体标准差、极值与分位数
func ComputeStatistics(values []float64) *FeatureStatistics {
	if len(values) == 0 {
		return &FeatureStatistics{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	stats := &FeatureStatistics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	stats.Mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - stats.Mean) * (v - stats.Mean)
	}
	stats.Std = math.Sqrt(variance / float64(len(values)))

	stats.Median = computePercentile(sorted, 0.5)
	stats.P95 = computePercentile(sorted, 0.95)
	return stats
}

// computePercentile 线性插值计算分位数
func computePercentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
