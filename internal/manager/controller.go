// Package manager drives the cards of a crate through the run lifecycle:
// one global state machine whose transitions are fanned out over the
// present slots in ascending order.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/config"
	"github.com/KevinKickass/CrateManager/internal/crate"
	"github.com/KevinKickass/CrateManager/internal/hardware"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/monitor"
	"github.com/KevinKickass/CrateManager/internal/scan"
)

// SessionFactory opens a session to one card. On a connection failure it
// returns an error wrapping hardware.ErrConnection.
type SessionFactory interface {
	Open(ctx context.Context, name string, endpoint hardware.Endpoint, addressTable string) (hardware.Session, error)
}

// Notifier receives the controller status after every state change.
type Notifier interface {
	StateChanged(status Status)
}

// TransitionRecorder persists executed transitions.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, rec TransitionRecord) error
}

type Options struct {
	// SettleDelay is waited by resume and halt.
	SettleDelay time.Duration
	// DrainPollInterval and DrainTimeout bound the L1A FIFO wait in pause.
	DrainPollInterval time.Duration
	DrainTimeout      time.Duration
	MonitorInterval   time.Duration
}

// OptionsFromConfig collects the controller timings from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SettleDelay:       cfg.Lifecycle.SettleDelay,
		DrainPollInterval: cfg.Lifecycle.DrainPollInterval,
		DrainTimeout:      cfg.Lifecycle.DrainTimeout,
		MonitorInterval:   cfg.Monitor.Interval,
	}
}

// Defaults is the configuration snapshot the controller works from.
type Defaults struct {
	Crate config.CrateConfig `json:"crate"`
	Scan  config.ScanConfig  `json:"scan"`
}

type Controller struct {
	logger         *zap.Logger
	factory        SessionFactory
	registry       *infospace.Registry
	metrics        *Metrics
	monitorMetrics *monitor.Metrics
	opts           Options

	notifier Notifier
	recorder TransitionRecorder

	// sem admits one transition at a time.
	sem chan struct{}

	mu         sync.RWMutex
	defaults   Defaults
	table      *crate.Table
	state      State
	failedFrom State
	failedSlot int
	lastError  string
	lastChange time.Time
	scanConfig scan.State
	scanState  scan.State
	slotStates map[int]State
	lastReport *Report
}

func NewController(
	logger *zap.Logger,
	factory SessionFactory,
	registry *infospace.Registry,
	metrics *Metrics,
	monitorMetrics *monitor.Metrics,
	opts Options,
) *Controller {
	return &Controller{
		logger:         logger,
		factory:        factory,
		registry:       registry,
		metrics:        metrics,
		monitorMetrics: monitorMetrics,
		opts:           opts,
		sem:            make(chan struct{}, 1),
		table:          crate.NewTable(),
		state:          StateHalted,
		lastChange:     time.Now(),
		slotStates:     make(map[int]State),
	}
}

// SetNotifier registers the live status sink.
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// SetRecorder registers the transition log.
func (c *Controller) SetRecorder(r TransitionRecorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// LoadDefaults replaces the configuration snapshot and re-derives the slot
// table. It is refused while slots are bound or a run is in progress.
func (c *Controller) LoadDefaults(ctx context.Context, d Defaults) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	mode, err := scan.ParseMode(d.Scan.Type)
	if err != nil {
		return err
	}
	scanConfig, err := scan.New(mode, d.Scan.Min, d.Scan.Step)
	if err != nil {
		return err
	}
	table, err := crate.Derive(d.Crate)
	if err != nil {
		return err
	}

	c.mu.RLock()
	state := c.state
	bound := len(c.table.Bindings())
	previous := c.table.Records()
	c.mu.RUnlock()

	if state != StateHalted && state != StateFailed {
		return fmt.Errorf("%w: cannot load defaults in state %s", ErrInvalidTransition, state)
	}
	if bound > 0 {
		return ErrSlotsBound
	}

	// Namespaces left by a failed initialize belong to the old table.
	for _, rec := range previous {
		c.resetSlot(rec)
	}

	c.mu.Lock()
	c.defaults = d
	c.table = table
	c.scanConfig = scanConfig
	c.scanState = scanConfig
	c.slotStates = make(map[int]State)
	c.mu.Unlock()
	c.metrics.scanState(scanConfig)

	c.logger.Info("Defaults loaded",
		zap.String("amc_slots", d.Crate.AMCSlots),
		zap.Stringer("enable_mask", table.Mask()),
		zap.String("scan", mode.String()))

	return nil
}

// ExecuteCommand runs one lifecycle command to completion. Commands are
// serialised; a caller waiting for a running command gives up when ctx ends.
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	// Once admitted, a transition runs to completion; DrainTimeout and the
	// hardware timeouts bound it, not the caller.
	ctx = context.WithoutCancel(ctx)

	from := c.State()
	to, err := Next(from, cmd)
	if err != nil {
		c.metrics.transition(cmd, ResultRejected)
		return err
	}

	c.logger.Info("Lifecycle command received",
		zap.String("command", string(cmd)),
		zap.String("current_state", string(from)))

	started := time.Now()
	switch cmd {
	case CommandInitialize:
		err = c.initialize(ctx)
	case CommandConfigure:
		err = c.configure(ctx)
	case CommandStart:
		err = c.start(ctx)
	case CommandPause:
		err = c.pause(ctx)
	case CommandResume:
		err = c.resume(ctx)
	case CommandStop:
		err = c.stop(ctx)
	case CommandHalt:
		err = c.halt(ctx)
	case CommandReset:
		err = c.reset(ctx)
	}

	return c.finish(ctx, cmd, from, to, started, err)
}

func (c *Controller) finish(ctx context.Context, cmd Command, from, to State, started time.Time, err error) error {
	rec := TransitionRecord{
		ID:        uuid.New().String(),
		Command:   cmd,
		From:      from,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	if err == nil {
		rec.To = to
		rec.Result = ResultOK
		c.setState(to, "")
		c.logger.Info("Lifecycle command completed",
			zap.String("command", string(cmd)),
			zap.String("state", string(to)),
			zap.Duration("duration", rec.Duration))
	} else {
		terr := &TransitionError{Command: cmd, From: from, Err: err}
		var slotErr *SlotError
		if errors.As(err, &slotErr) {
			terr.Slot = slotErr.Slot
			c.fail(from, slotErr.Slot, terr)
			rec.To = StateFailed
		} else {
			rec.To = from
			c.mu.Lock()
			c.lastError = terr.Error()
			c.mu.Unlock()
		}
		rec.Result = ResultFailed
		rec.FailedSlot = terr.Slot
		rec.Error = terr.Error()
		err = terr

		c.logger.Error("Lifecycle command failed",
			zap.String("command", string(cmd)),
			zap.String("from", string(from)),
			zap.Int("slot", terr.Slot),
			zap.Error(err))
	}

	c.metrics.transition(cmd, rec.Result)

	c.mu.RLock()
	recorder := c.recorder
	c.mu.RUnlock()
	if recorder != nil {
		if recErr := recorder.RecordTransition(ctx, rec); recErr != nil {
			c.logger.Warn("Failed to record transition", zap.Error(recErr))
		}
	}

	return err
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release() {
	<-c.sem
}

func (c *Controller) setState(state State, errorMsg string) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.lastError = errorMsg
	c.lastChange = time.Now()
	if state != StateFailed {
		c.failedFrom = ""
		c.failedSlot = 0
	}
	notifier := c.notifier
	c.mu.Unlock()

	c.logger.Info("Crate state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previous)))

	if notifier != nil {
		notifier.StateChanged(c.Status())
	}
}

func (c *Controller) fail(from State, slot int, err error) {
	c.mu.Lock()
	c.failedFrom = from
	c.failedSlot = slot
	c.mu.Unlock()

	c.setState(StateFailed, err.Error())
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ScanState returns the current scan values.
func (c *Controller) ScanState() scan.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanState
}

// SlotState returns the last lifecycle state slot reached, if it is present.
func (c *Controller) SlotState(slot int) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slotStates[slot]
	return s, ok
}

func (c *Controller) setSlotState(slot int, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slotStates[slot] = state
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
