package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/crate"
	"github.com/KevinKickass/CrateManager/internal/hardware"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/monitor"
	"github.com/KevinKickass/CrateManager/internal/scan"
)

const defaultDrainPollInterval = 100 * time.Microsecond

func (c *Controller) initialize(ctx context.Context) error {
	c.mu.RLock()
	crateCfg := c.defaults.Crate
	bound := len(c.table.Bindings())
	c.mu.RUnlock()

	table, err := crate.Derive(crateCfg)
	if err != nil {
		return fmt.Errorf("derive slot table: %w", err)
	}

	// Bindings survive halt; drop them before the table is replaced.
	if bound > 0 {
		c.logger.Info("Releasing bindings before initialize", zap.Int("bound", bound))
		c.mu.RLock()
		records := c.table.Records()
		c.mu.RUnlock()
		for _, rec := range records {
			c.resetSlot(rec)
		}
	}

	c.mu.Lock()
	c.table = table
	c.slotStates = make(map[int]State)
	for _, rec := range table.Records() {
		c.slotStates[rec.SlotID] = StateHalted
	}
	c.mu.Unlock()

	c.logger.Info("Slot table derived",
		zap.Stringer("enable_mask", table.Mask()),
		zap.Ints("slots", table.Mask().Slots()))

	if _, err := c.fanOut(ctx, CommandInitialize, StateInitialized, abortOnFailure, c.bindSlot); err != nil {
		return err
	}

	// Every present slot must be bound and still reachable.
	for _, rec := range table.Records() {
		b := c.binding(rec.SlotID)
		if b == nil {
			return &SlotError{Slot: rec.SlotID, Op: "verify", Err: fmt.Errorf("%w: slot not bound", ErrHardwareFault)}
		}
		if !b.Guard.Connected() {
			return &SlotError{Slot: rec.SlotID, Op: "verify", Err: fmt.Errorf("%w: %s", hardware.ErrConnection, rec.DeviceName())}
		}
	}

	return nil
}

// bindSlot opens the card of one present slot, publishes its catalogue and
// starts its monitor.
func (c *Controller) bindSlot(ctx context.Context, rec crate.Record) error {
	ns, created := c.registry.GetOrCreate(rec.URN())
	if created {
		c.logger.Debug("Namespace created", zap.String("urn", rec.URN()))
	}

	session, err := c.factory.Open(ctx, rec.DeviceName(), rec.Endpoint, rec.AddressTable)
	if err != nil {
		if session != nil {
			_ = session.Close()
		}
		return err
	}
	if !session.IsConnected() {
		_ = session.Close()
		return fmt.Errorf("%w: %s", hardware.ErrConnection, rec.DeviceName())
	}

	guard := hardware.NewGuard(session)
	c.publishFields(ctx, rec, guard, ns)

	mon := monitor.New(rec.SlotID, guard, ns, c.opts.MonitorInterval, c.monitorMetrics, c.logger)
	binding := &crate.Binding{Guard: guard, Monitor: mon, Namespace: ns}

	c.mu.Lock()
	err = c.table.Bind(rec.SlotID, binding)
	c.mu.Unlock()
	if err != nil {
		_ = guard.Close()
		return err
	}

	if err := mon.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	c.logger.Info("Slot bound",
		zap.Int("slot", rec.SlotID),
		zap.String("device", rec.DeviceName()),
		zap.Int("fields", ns.Len()))

	return nil
}

// publishFields creates the connection parameters and the catalogue in ns.
// A register that cannot be read is published as zero.
func (c *Controller) publishFields(ctx context.Context, rec crate.Record, guard *hardware.Guard, ns *infospace.Namespace) {
	params := map[string]interface{}{
		infospace.FieldControlHubAddress: rec.Endpoint.HostAddress,
		infospace.FieldIPBusProtocol:     rec.Endpoint.Protocol,
		infospace.FieldDeviceIPAddress:   rec.Endpoint.DeviceAddress,
		infospace.FieldAddressTable:      rec.AddressTable,
		infospace.FieldControlHubPort:    rec.Endpoint.HostPort,
		infospace.FieldIPBusPort:         rec.Endpoint.DevicePort,
	}
	for _, f := range infospace.Parameters {
		c.publish(ns, f, params[f.Name])
	}

	for _, f := range infospace.Catalogue {
		value := zeroValue(f.Kind)
		if f.Register != "" && !f.IsRate() {
			err := guard.Do(func(s hardware.Session) error {
				v, err := s.ReadRegister(ctx, f.Register)
				if err != nil {
					return err
				}
				value = v
				return nil
			})
			if err != nil {
				c.logger.Warn("Catalogue field read failed",
					zap.Int("slot", rec.SlotID),
					zap.String("field", f.Name),
					zap.Error(err))
			}
		}
		c.publish(ns, f, value)
	}
}

func (c *Controller) publish(ns *infospace.Namespace, f infospace.FieldSpec, value interface{}) {
	err := ns.Create(f.Name, f.Kind, f.Policy, f.Format, value)
	if errors.Is(err, infospace.ErrFieldExists) {
		err = ns.Set(f.Name, value)
	}
	if err != nil {
		c.logger.Warn("Failed to publish field",
			zap.String("urn", ns.URN()),
			zap.String("field", f.Name),
			zap.Error(err))
	}
}

func zeroValue(kind infospace.Kind) interface{} {
	switch kind {
	case infospace.KindUint32:
		return uint32(0)
	case infospace.KindUint64:
		return uint64(0)
	case infospace.KindDouble:
		return float64(0)
	default:
		return ""
	}
}

func (c *Controller) configure(ctx context.Context) error {
	c.mu.RLock()
	program := c.scanConfig.Configure()
	c.mu.RUnlock()

	_, err := c.fanOut(ctx, CommandConfigure, StateConfigured, abortOnFailure, func(ctx context.Context, rec crate.Record) error {
		return c.withSession(rec.SlotID, func(s hardware.Session) error {
			if err := s.ResetL1ACount(ctx); err != nil {
				return fmt.Errorf("reset L1A count: %w", err)
			}
			if err := s.ResetCalPulseCount(ctx); err != nil {
				return fmt.Errorf("reset cal pulse count: %w", err)
			}
			if err := s.ResetDAQLink(ctx); err != nil {
				return fmt.Errorf("reset DAQ link: %w", err)
			}
			if err := s.SetL1AInhibit(ctx, true); err != nil {
				return fmt.Errorf("set L1A inhibit: %w", err)
			}
			return writeProgram(ctx, s, program)
		})
	})
	return err
}

func writeProgram(ctx context.Context, s hardware.Session, p scan.Program) error {
	if err := s.SetDAQLinkRunType(ctx, p.RunType); err != nil {
		return fmt.Errorf("set run type: %w", err)
	}
	if len(p.Params) == 0 {
		if err := s.SetDAQLinkRunParameters(ctx, p.Word); err != nil {
			return fmt.Errorf("set run parameters: %w", err)
		}
		return nil
	}
	return writeParams(ctx, s, p.Params)
}

func writeParams(ctx context.Context, s hardware.Session, params []scan.Param) error {
	for _, p := range params {
		if err := s.SetDAQLinkRunParameter(ctx, p.Index, p.Value); err != nil {
			return fmt.Errorf("set run parameter %d: %w", p.Index, err)
		}
	}
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	c.mu.RLock()
	next := c.scanConfig.Start()
	c.mu.RUnlock()

	_, err := c.fanOut(ctx, CommandStart, StateRunning, abortOnFailure, func(ctx context.Context, rec crate.Record) error {
		return c.withSession(rec.SlotID, func(s hardware.Session) error {
			if err := s.EnableDAQLink(ctx); err != nil {
				return fmt.Errorf("enable DAQ link: %w", err)
			}
			if err := s.SetL1AInhibit(ctx, false); err != nil {
				return fmt.Errorf("release L1A inhibit: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	c.setScanState(next)
	return nil
}

func (c *Controller) pause(ctx context.Context) error {
	c.mu.RLock()
	current := c.scanState
	c.mu.RUnlock()

	// Overflow is detected before any card is touched.
	params, err := current.PauseParams()
	if err != nil {
		return err
	}
	next, err := current.Advance()
	if err != nil {
		return err
	}

	_, err = c.fanOut(ctx, CommandPause, StatePaused, abortOnFailure, func(ctx context.Context, rec crate.Record) error {
		if !current.Active() {
			return c.withSession(rec.SlotID, func(hardware.Session) error { return nil })
		}
		if err := c.drain(ctx, rec.SlotID); err != nil {
			return err
		}
		return c.withSession(rec.SlotID, func(s hardware.Session) error {
			return writeParams(ctx, s, params)
		})
	})
	if err != nil {
		return err
	}

	if current.Active() {
		c.setScanState(next)
		c.logger.Info("Scan advanced",
			zap.String("mode", next.Mode.String()),
			zap.Int("latency", next.Latency),
			zap.Int("threshold_vt1", next.ThresholdVT1))
	}
	return nil
}

// drain polls the L1A FIFO of slot until it is empty or the drain timeout
// expires. The guard is taken per poll so the monitor can interleave.
func (c *Controller) drain(ctx context.Context, slot int) error {
	interval := c.opts.DrainPollInterval
	if interval <= 0 {
		interval = defaultDrainPollInterval
	}
	deadline := time.Now().Add(c.opts.DrainTimeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		var empty bool
		err := c.withSession(slot, func(s hardware.Session) error {
			var err error
			empty, err = s.L1AFIFOIsEmpty(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("poll L1A FIFO: %w", err)
		}
		if empty {
			c.logger.Debug("L1A FIFO drained", zap.Int("slot", slot), zap.Int("polls", polls))
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: slot %d after %s", ErrDrainTimeout, slot, c.opts.DrainTimeout)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) resume(ctx context.Context) error {
	if err := sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}
	_, err := c.fanOut(ctx, CommandResume, StateRunning, tolerateFailures, noop)
	return err
}

func (c *Controller) stop(ctx context.Context) error {
	_, err := c.fanOut(ctx, CommandStop, StateStopped, tolerateFailures, func(ctx context.Context, rec crate.Record) error {
		return c.withSession(rec.SlotID, func(s hardware.Session) error {
			return s.SetL1AInhibit(ctx, true)
		})
	})
	return err
}

func (c *Controller) halt(ctx context.Context) error {
	if err := sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}
	_, err := c.fanOut(ctx, CommandHalt, StateHalted, tolerateFailures, noop)
	return err
}

// reset never fails: every present slot is released and its namespace
// revoked, whatever state it is in.
func (c *Controller) reset(ctx context.Context) error {
	_, err := c.fanOut(ctx, CommandReset, StateHalted, tolerateFailures, func(_ context.Context, rec crate.Record) error {
		c.resetSlot(rec)
		return nil
	})

	c.mu.RLock()
	cfg := c.scanConfig
	c.mu.RUnlock()
	c.setScanState(cfg)

	return err
}

// resetSlot stops and unbinds the slot's hardware and revokes every field
// of its namespace. A missing namespace is not an error.
func (c *Controller) resetSlot(rec crate.Record) {
	c.mu.Lock()
	b, bound := c.table.Unbind(rec.SlotID)
	c.mu.Unlock()

	if bound {
		b.Monitor.Reset()
		if err := b.Guard.Close(); err != nil {
			c.logger.Warn("Failed to close session",
				zap.Int("slot", rec.SlotID),
				zap.Error(err))
		}
	}

	ns, ok := c.registry.Get(rec.URN())
	if !ok {
		c.logger.Debug("Nothing to revoke",
			zap.Int("slot", rec.SlotID),
			zap.String("urn", rec.URN()),
			zap.Error(ErrConfigurationMissing))
		return
	}

	revoked := 0
	for _, name := range infospace.FieldNames() {
		if err := ns.Revoke(name); err == nil {
			revoked++
		}
	}
	c.registry.Remove(rec.URN())

	c.logger.Debug("Namespace revoked",
		zap.Int("slot", rec.SlotID),
		zap.String("urn", rec.URN()),
		zap.Int("fields", revoked))
}

func noop(context.Context, crate.Record) error { return nil }

func (c *Controller) setScanState(s scan.State) {
	c.mu.Lock()
	c.scanState = s
	c.mu.Unlock()
	c.metrics.scanState(s)
}
