package utils

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects replay counters and latencies.
type MetricsCollector struct {
	mu sync.RWMutex

	// Operation counters
	replayAttempts  int64
	replaySuccesses int64
	replayFailures  int64
	reverted        int64
	frames          int64
	opcodes         int64
	moneyFlows      int64
	decodeFailures  int64

	avgReplayTime  time.Duration
	latencyBuckets map[string]int64

	startTime     time.Time
	lastResetTime time.Time
}

// ReplayStats are the per-transaction numbers fed into the collector.
type ReplayStats struct {
	Frames         int
	Opcodes        int
	MoneyFlows     int
	DecodeFailures int
	Reverted       bool
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		latencyBuckets: make(map[string]int64),
		startTime:      now,
		lastResetTime:  now,
	}
}

// RecordReplay records one successful replay.
func (mc *MetricsCollector) RecordReplay(duration time.Duration, stats ReplayStats) {
	atomic.AddInt64(&mc.replayAttempts, 1)
	atomic.AddInt64(&mc.replaySuccesses, 1)
	atomic.AddInt64(&mc.frames, int64(stats.Frames))
	atomic.AddInt64(&mc.opcodes, int64(stats.Opcodes))
	atomic.AddInt64(&mc.moneyFlows, int64(stats.MoneyFlows))
	atomic.AddInt64(&mc.decodeFailures, int64(stats.DecodeFailures))
	if stats.Reverted {
		atomic.AddInt64(&mc.reverted, 1)
	}

	mc.updateAverageTime(&mc.avgReplayTime, duration)
	mc.updateLatencyBucket(mc.latencyBuckets, duration)
}

// RecordFailure records a replay that produced no trace.
func (mc *MetricsCollector) RecordFailure(duration time.Duration) {
	atomic.AddInt64(&mc.replayAttempts, 1)
	atomic.AddInt64(&mc.replayFailures, 1)
	mc.updateLatencyBucket(mc.latencyBuckets, duration)
}

// updateAverageTime updates running average of duration
func (mc *MetricsCollector) updateAverageTime(avg *time.Duration, newDuration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Simple exponential moving average with alpha=0.1
	if *avg == 0 {
		*avg = newDuration
		return
	}
	*avg = time.Duration(float64(*avg)*0.9 + float64(newDuration)*0.1)
}

// updateLatencyBucket updates latency distribution buckets
func (mc *MetricsCollector) updateLatencyBucket(buckets map[string]int64, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	buckets[latencyBucket(duration)]++
}

func latencyBucket(duration time.Duration) string {
	ms := duration.Milliseconds()
	switch {
	case ms < 10:
		return "<10ms"
	case ms < 50:
		return "10-50ms"
	case ms < 100:
		return "50-100ms"
	case ms < 500:
		return "100-500ms"
	case ms < 1000:
		return "500ms-1s"
	case ms < 5000:
		return "1-5s"
	default:
		return ">5s"
	}
}

// Snapshot returns a point-in-time copy of the metrics
func (mc *MetricsCollector) Snapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	buckets := make(map[string]int64, len(mc.latencyBuckets))
	for bucket, count := range mc.latencyBuckets {
		buckets[bucket] = count
	}

	attempts := atomic.LoadInt64(&mc.replayAttempts)
	successes := atomic.LoadInt64(&mc.replaySuccesses)
	successRate := 0.0
	if attempts > 0 {
		successRate = float64(successes) / float64(attempts)
	}

	return &MetricsSnapshot{
		ReplayAttempts:  attempts,
		ReplaySuccesses: successes,
		ReplayFailures:  atomic.LoadInt64(&mc.replayFailures),
		Reverted:        atomic.LoadInt64(&mc.reverted),
		Frames:          atomic.LoadInt64(&mc.frames),
		Opcodes:         atomic.LoadInt64(&mc.opcodes),
		MoneyFlows:      atomic.LoadInt64(&mc.moneyFlows),
		DecodeFailures:  atomic.LoadInt64(&mc.decodeFailures),
		AvgReplayTime:   mc.avgReplayTime,
		LatencyBuckets:  buckets,
		SuccessRate:     successRate,
		Uptime:          time.Since(mc.startTime),
		LastResetTime:   mc.lastResetTime,
		Timestamp:       time.Now(),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	ReplayAttempts  int64 `json:"replayAttempts"`
	ReplaySuccesses int64 `json:"replaySuccesses"`
	ReplayFailures  int64 `json:"replayFailures"`
	Reverted        int64 `json:"reverted"`
	Frames          int64 `json:"frames"`
	Opcodes         int64 `json:"opcodes"`
	MoneyFlows      int64 `json:"moneyFlows"`
	DecodeFailures  int64 `json:"decodeFailures"`

	AvgReplayTime  time.Duration    `json:"avgReplayTime"`
	LatencyBuckets map[string]int64 `json:"latencyBuckets"`
	SuccessRate    float64          `json:"successRate"`

	Uptime        time.Duration `json:"uptime"`
	LastResetTime time.Time     `json:"lastResetTime"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ResetCounters resets all counters
func (mc *MetricsCollector) ResetCounters() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	atomic.StoreInt64(&mc.replayAttempts, 0)
	atomic.StoreInt64(&mc.replaySuccesses, 0)
	atomic.StoreInt64(&mc.replayFailures, 0)
	atomic.StoreInt64(&mc.reverted, 0)
	atomic.StoreInt64(&mc.frames, 0)
	atomic.StoreInt64(&mc.opcodes, 0)
	atomic.StoreInt64(&mc.moneyFlows, 0)
	atomic.StoreInt64(&mc.decodeFailures, 0)

	mc.avgReplayTime = 0
	mc.latencyBuckets = make(map[string]int64)
	mc.lastResetTime = time.Now()
}

// LogContext flattens the snapshot into key/value pairs for structured logging.
func (ms *MetricsSnapshot) LogContext() []interface{} {
	return []interface{}{
		"replays", ms.ReplayAttempts,
		"failed", ms.ReplayFailures,
		"reverted", ms.Reverted,
		"frames", ms.Frames,
		"opcodes", ms.Opcodes,
		"moneyFlows", ms.MoneyFlows,
		"decodeFailures", ms.DecodeFailures,
		"avgReplay", ms.AvgReplayTime,
	}
}

// GetSummaryReport generates a human-readable summary
func (ms *MetricsSnapshot) GetSummaryReport() string {
	var b strings.Builder
	b.WriteString("=== Replay Metrics Summary ===\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", ms.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Uptime: %v\n\n", ms.Uptime)

	b.WriteString("Replays:\n")
	fmt.Fprintf(&b, "  Attempts: %d\n", ms.ReplayAttempts)
	fmt.Fprintf(&b, "  Succeeded: %d (%.2f%%)\n", ms.ReplaySuccesses, ms.SuccessRate*100)
	fmt.Fprintf(&b, "  Reverted on chain: %d\n", ms.Reverted)
	fmt.Fprintf(&b, "  Avg replay time: %v\n\n", ms.AvgReplayTime)

	b.WriteString("Recorded:\n")
	fmt.Fprintf(&b, "  Frames: %d\n", ms.Frames)
	fmt.Fprintf(&b, "  Opcodes: %d\n", ms.Opcodes)
	fmt.Fprintf(&b, "  Money flows: %d\n", ms.MoneyFlows)
	fmt.Fprintf(&b, "  Decode failures: %d\n", ms.DecodeFailures)

	b.WriteString("\nLatency distribution:\n")
	for _, bucket := range []string{"<10ms", "10-50ms", "50-100ms", "100-500ms", "500ms-1s", "1-5s", ">5s"} {
		if count := ms.LatencyBuckets[bucket]; count > 0 && ms.ReplayAttempts > 0 {
			percentage := float64(count) / float64(ms.ReplayAttempts) * 100
			fmt.Fprintf(&b, "  %s: %d (%.1f%%)\n", bucket, count, percentage)
		}
	}
	return b.String()
}
