// Package health runs periodic dependency probes for ledgerd and reports
// readiness.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency and returns nil when it is healthy.
type Probe func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// ProbeStatus is the last known state of a single probe.
type ProbeStatus struct {
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"consecutive_failures"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type probeState struct {
	probe  Probe
	status ProbeStatus
}

// Checker runs registered probes on an interval. A probe counts as
// unhealthy once it has failed FailThreshold times in a row.
type Checker struct {
	mu        sync.Mutex
	probes    map[string]*probeState
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		probes: make(map[string]*probeState),
		cfg:    cfg,
		logger: logger,
	}
}

// Register adds a named probe. Probes start healthy until they fail.
func (h *Checker) Register(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = &probeState{probe: p, status: ProbeStatus{Healthy: true}}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently, each bounded by ProbeTimeout.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	names := make([]string, 0, len(h.probes))
	probes := make([]Probe, 0, len(h.probes))
	for name, st := range h.probes {
		names = append(names, name)
		probes = append(probes, st.probe)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(name string, p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p(pctx)
			cancel()
			h.record(name, err)
		}(names[i], probes[i])
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	st, ok := h.probes[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	wasHealthy := st.status.Healthy
	st.status.CheckedAt = time.Now().UTC()
	if err == nil {
		st.status.Failures = 0
		st.status.LastError = ""
		st.status.Healthy = true
	} else {
		st.status.Failures++
		st.status.LastError = err.Error()
		if st.status.Failures >= h.cfg.FailThreshold {
			st.status.Healthy = false
		}
	}
	nowHealthy := st.status.Healthy
	failures := st.status.Failures
	h.mu.Unlock()

	switch {
	case wasHealthy && !nowHealthy:
		h.logger.Warn("health: degraded",
			zap.String("probe", name),
			zap.Int("fail_count", failures),
			zap.Error(err),
		)
	case !wasHealthy && nowHealthy:
		h.logger.Info("health: recovered", zap.String("probe", name))
	}
}

// Status returns a snapshot of every probe and whether all are healthy.
func (h *Checker) Status() (map[string]ProbeStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]ProbeStatus, len(h.probes))
	ready := true
	for name, st := range h.probes {
		out[name] = st.status
		ready = ready && st.status.Healthy
	}
	return out, ready
}

// HTTPProbe returns a Probe that fails when HEAD url errors or answers 5xx.
func HTTPProbe(client *http.Client, url string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil
	}
}
