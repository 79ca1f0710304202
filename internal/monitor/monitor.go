// Package monitor samples the registers of one bound card in the background
// and publishes them into the card's namespace.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/hardware"
	"github.com/KevinKickass/CrateManager/internal/infospace"
)

// ErrSample marks a failed sampling pass. It degrades telemetry only.
var ErrSample = errors.New("monitor sample error")

type sample struct {
	value uint64
	at    time.Time
}

// Status is a point-in-time view of a monitor.
type Status struct {
	Running    bool      `json:"running"`
	Degraded   bool      `json:"degraded"`
	Passes     int       `json:"passes"`
	Failures   int       `json:"failures"`
	LastSample time.Time `json:"last_sample"`
	LastError  string    `json:"last_error,omitempty"`
}

type Monitor struct {
	slot     int
	guard    *hardware.Guard
	ns       *infospace.Namespace
	fields   []infospace.FieldSpec
	interval time.Duration
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	stateMu sync.Mutex
	last    map[string]sample
	status  Status
}

// New creates a monitor for the fields of the catalogue that are refreshed
// after bind time. metrics may be nil.
func New(slot int, guard *hardware.Guard, ns *infospace.Namespace, interval time.Duration, metrics *Metrics, logger *zap.Logger) *Monitor {
	var fields []infospace.FieldSpec
	for _, f := range infospace.Catalogue {
		if f.Policy != infospace.NoUpdate && f.Register != "" {
			fields = append(fields, f)
		}
	}

	return &Monitor{
		slot:     slot,
		guard:    guard,
		ns:       ns,
		fields:   fields,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With(zap.Int("slot", slot)),
		last:     make(map[string]sample),
	}
}

// Start begins periodic sampling.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if m.interval <= 0 {
		return fmt.Errorf("invalid monitor interval %s", m.interval)
	}

	m.running = true
	m.stopChan = make(chan struct{})
	m.wg.Add(1)

	go m.sampleLoop(m.stopChan)

	m.setRunning(true)
	m.logger.Info("Monitor started",
		zap.String("device", m.guard.Name()),
		zap.Duration("interval", m.interval))

	return nil
}

// Stop stops sampling and waits for an in-flight pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopChan)
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.setRunning(false)

	m.logger.Info("Monitor stopped", zap.String("device", m.guard.Name()))
}

// Reset stops sampling and clears the accumulated samples and counters. The
// monitor can be started again afterwards.
func (m *Monitor) Reset() {
	m.Stop()

	m.stateMu.Lock()
	m.last = make(map[string]sample)
	m.status = Status{}
	m.stateMu.Unlock()

	m.metrics.forget(m.slot)
	m.logger.Debug("Monitor reset")
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) Degraded() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.status.Degraded
}

func (m *Monitor) Status() Status {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.status
}

func (m *Monitor) sampleLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			_ = m.Sample(ctx)
			cancel()
		}
	}
}

// Sample runs one sampling pass. Registers are read under the session
// guard; the namespace is updated afterwards. Per-register failures do not
// stop the pass but mark it degraded.
func (m *Monitor) Sample(ctx context.Context) error {
	values := make(map[string]uint64, len(m.fields))
	var readErrs []error

	err := m.guard.Do(func(s hardware.Session) error {
		if !s.IsConnected() {
			return hardware.ErrNotConnected
		}
		for _, f := range m.fields {
			v, err := s.ReadRegister(ctx, f.Register)
			if err != nil {
				readErrs = append(readErrs, fmt.Errorf("%s: %w", f.Name, err))
				continue
			}
			values[f.Name] = v
		}
		return nil
	})
	if err == nil && len(readErrs) > 0 {
		err = errors.Join(readErrs...)
	}

	now := time.Now()
	m.publish(values, now)

	if err != nil {
		err = fmt.Errorf("%w: slot %d: %w", ErrSample, m.slot, err)
		m.logger.Warn("Monitor sample failed", zap.Error(err))
	}
	m.record(now, err)
	m.metrics.sampled(m.slot, err)
	return err
}

func (m *Monitor) publish(values map[string]uint64, now time.Time) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	for _, f := range m.fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}

		var published interface{} = v
		gauge := float64(v)
		if f.IsRate() {
			rate := 0.0
			if prev, seen := m.last[f.Name]; seen && v >= prev.value {
				if dt := now.Sub(prev.at).Seconds(); dt > 0 {
					rate = float64(v-prev.value) / dt
				}
			}
			m.last[f.Name] = sample{value: v, at: now}
			published = rate
			gauge = rate
		}

		if err := m.ns.Set(f.Name, published); err != nil {
			m.logger.Debug("Field not updated", zap.String("field", f.Name), zap.Error(err))
			continue
		}
		m.metrics.observe(m.slot, f.Name, gauge)
	}
}

func (m *Monitor) record(now time.Time, err error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	m.status.Passes++
	m.status.LastSample = now
	if err != nil {
		m.status.Failures++
		m.status.Degraded = true
		m.status.LastError = err.Error()
		return
	}
	m.status.Degraded = false
	m.status.LastError = ""
}

func (m *Monitor) setRunning(running bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.status.Running = running
}
