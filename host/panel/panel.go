// Package panel is the master side of the load link: it identifies the
// load, keeps the communication watchdog fed and exposes setpoints,
// enable control and telemetry over the register protocol.
package panel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"eload/core"
	"eload/host/serial"
	"eload/protocol"
)

var (
	ErrNotLoad         = errors.New("panel: device did not identify as a load")
	ErrNotEnabled      = errors.New("panel: load refused to enable")
	ErrUnknownRegister = errors.New("panel: unknown register")
	ErrReadOnly        = errors.New("panel: register is read-only")
	ErrRange           = errors.New("panel: value out of register range")
)

// DefaultKeepalive reloads the watchdog well inside its one second
// timeout.
const DefaultKeepalive = 250 * time.Millisecond

// Panel is a connection to one load.
type Panel struct {
	master *protocol.Master
	log    *slog.Logger

	keepalive time.Duration
	kaMu      sync.Mutex
	kaStop    chan struct{}
	kaDone    chan struct{}

	pollInterval time.Duration
}

// Option configures a Panel.
type Option func(*Panel)

// WithLogger sets the logger used for background errors.
func WithLogger(l *slog.Logger) Option {
	return func(p *Panel) { p.log = l }
}

// WithKeepalive sets the watchdog reload interval.
func WithKeepalive(d time.Duration) Option {
	return func(p *Panel) { p.keepalive = d }
}

// WithTimeout sets the per-read reply timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Panel) { p.master.SetTimeout(d) }
}

// WithObserver installs an exchange observer such as a trace recorder.
func WithObserver(o protocol.Observer) Option {
	return func(p *Panel) { p.master.SetObserver(o) }
}

// New creates a panel over an open port.
func New(port io.ReadWriteCloser, opts ...Option) *Panel {
	p := &Panel{
		master:       protocol.NewMaster(port),
		log:          slog.Default(),
		keepalive:    DefaultKeepalive,
		pollInterval: 5 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens the serial device in cfg and creates a panel on it.
func Connect(cfg *serial.Config, opts ...Option) (*Panel, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return New(port, opts...), nil
}

// Master returns the underlying register client.
func (p *Panel) Master() *protocol.Master {
	return p.master
}

// Close stops the keepalive and closes the link.
func (p *Panel) Close() error {
	p.StopKeepalive()
	return p.master.Close()
}

// Identify checks the ID register.
func (p *Panel) Identify(ctx context.Context) error {
	id, err := p.master.ReadRegister(ctx, protocol.RegID)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	if id != protocol.IDCode {
		return fmt.Errorf("identify: id 0x%04x: %w", id, ErrNotLoad)
	}
	return nil
}

// ReloadWatchdog writes the watchdog key once.
func (p *Panel) ReloadWatchdog() error {
	return p.master.WriteRegister(protocol.RegWDReload, protocol.WDReloadKey)
}

// StartKeepalive reloads the watchdog periodically until StopKeepalive.
func (p *Panel) StartKeepalive() {
	p.kaMu.Lock()
	defer p.kaMu.Unlock()
	if p.kaStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	p.kaStop, p.kaDone = stop, done

	go func() {
		defer close(done)
		t := time.NewTicker(p.keepalive)
		defer t.Stop()
		for {
			if err := p.ReloadWatchdog(); err != nil {
				if errors.Is(err, protocol.ErrClosed) {
					return
				}
				p.log.Warn("watchdog reload failed", "err", err)
			}
			select {
			case <-stop:
				return
			case <-t.C:
			}
		}
	}()
}

// StopKeepalive stops the reload goroutine. The load trips its
// communication fault one timeout later if it is still enabled.
func (p *Panel) StopKeepalive() {
	p.kaMu.Lock()
	stop, done := p.kaStop, p.kaDone
	p.kaStop, p.kaDone = nil, nil
	p.kaMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Status reads the status register.
func (p *Panel) Status(ctx context.Context) (core.Status, error) {
	v, err := p.master.ReadRegister(ctx, protocol.RegStatus)
	return core.Status(v), err
}

// Faults reads the latched faults.
func (p *Panel) Faults(ctx context.Context) (core.Fault, error) {
	v, err := p.master.ReadRegister(ctx, protocol.RegFault)
	return core.Fault(v), err
}

// FaultMask reads the effective fault mask.
func (p *Panel) FaultMask(ctx context.Context) (core.Fault, error) {
	v, err := p.master.ReadRegister(ctx, protocol.RegFaultMask)
	return core.Fault(v), err
}

// Enable reloads the watchdog, sends the enable key and waits until the
// status register reports the load enabled. A fault or a missing READY
// bit fails with ErrNotEnabled.
func (p *Panel) Enable(ctx context.Context) error {
	if err := p.ReloadWatchdog(); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	if err := p.master.WriteRegister(protocol.RegEnable, protocol.EnableKey); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	st, err := p.waitStatus(ctx, func(s core.Status) bool {
		return s&(core.StatusEnabled|core.StatusFault) != 0
	})
	if err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	if st&core.StatusEnabled == 0 {
		faults, _ := p.Faults(ctx)
		return fmt.Errorf("enable: status %s, faults %s: %w", st, faults, ErrNotEnabled)
	}
	return nil
}

// Disable turns the load off and waits for confirmation.
func (p *Panel) Disable(ctx context.Context) error {
	if err := p.master.WriteRegister(protocol.RegEnable, 0); err != nil {
		return fmt.Errorf("disable: %w", err)
	}
	if _, err := p.waitStatus(ctx, func(s core.Status) bool {
		return s&core.StatusEnabled == 0
	}); err != nil {
		return fmt.Errorf("disable: %w", err)
	}
	return nil
}

// waitStatus polls the status register until done reports true. Writes
// are applied by the load's command task, so a read straight after a
// write may still see the old state.
func (p *Panel) waitStatus(ctx context.Context, done func(core.Status) bool) (core.Status, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}
	for {
		st, err := p.Status(ctx)
		if err != nil {
			return st, err
		}
		if done(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, nil
		case <-time.After(p.pollInterval):
		}
	}
}

// SetMode selects the regulation mode and the voltage-sense source.
func (p *Panel) SetMode(mode core.Mode, src core.SenseSource) error {
	if !mode.Valid() {
		return fmt.Errorf("mode %d: %w", mode, ErrRange)
	}
	v := uint16(mode) & protocol.ConfigModeMask
	switch src {
	case core.SenseRemote:
		v |= protocol.ConfigVsenRemote
	case core.SenseAuto:
		v |= protocol.ConfigVsenAuto
	}
	return p.master.WriteRegister(protocol.RegConfig, v)
}

// Mode reads back the regulation mode and sense source.
func (p *Panel) Mode(ctx context.Context) (core.Mode, core.SenseSource, error) {
	v, err := p.master.ReadRegister(ctx, protocol.RegConfig)
	if err != nil {
		return 0, 0, err
	}
	src := core.SenseInternal
	switch {
	case v&protocol.ConfigVsenAuto != 0:
		src = core.SenseAuto
	case v&protocol.ConfigVsenRemote != 0:
		src = core.SenseRemote
	}
	return core.Mode(v & protocol.ConfigModeMask), src, nil
}

func (p *Panel) writeScaled(addr uint8, value, scale uint32) error {
	raw := value / scale
	if raw > 0xFFFF {
		return fmt.Errorf("%s %d: %w", protocol.RegisterName(addr), value, ErrRange)
	}
	return p.master.WriteRegister(addr, uint16(raw))
}

// SetCurrent sets the CC level in mA.
func (p *Panel) SetCurrent(mA uint32) error {
	return p.writeScaled(protocol.RegCCLevel, mA, 1)
}

// SetVoltage sets the CV level in mV.
func (p *Panel) SetVoltage(mV uint32) error {
	return p.writeScaled(protocol.RegCVLevel, mV, protocol.CVScaleMV)
}

// SetResistance sets the CR level in mOhm.
func (p *Panel) SetResistance(mOhm uint32) error {
	return p.writeScaled(protocol.RegCRLevel, mOhm, protocol.CRScaleMR)
}

// SetPower sets the CP level in mW.
func (p *Panel) SetPower(mW uint32) error {
	return p.writeScaled(protocol.RegCPLevel, mW, protocol.CPScaleMW)
}

// SetDischarge sets the discharge cut-off voltage in mV; 0 disables it.
func (p *Panel) SetDischarge(mV uint32) error {
	return p.writeScaled(protocol.RegDischLevel, mV, protocol.CVScaleMV)
}

// SetFanOverride requests a minimum fan PWM.
func (p *Panel) SetFanOverride(pwm uint8) error {
	return p.master.WriteRegister(protocol.RegFanOverride, uint16(pwm))
}

// ClearFaults clears the given latched faults.
func (p *Panel) ClearFaults(f core.Fault) error {
	return p.master.WriteRegister(protocol.RegFault, uint16(f))
}

// SetFaultMask selects which faults disable the load. Non-maskable faults
// stay enabled regardless.
func (p *Panel) SetFaultMask(m core.Fault) error {
	return p.master.WriteRegister(protocol.RegFaultMask, uint16(m))
}

// Read reads a register by name.
func (p *Panel) Read(ctx context.Context, name string) (uint16, error) {
	info, ok := protocol.LookupRegister(name)
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownRegister)
	}
	return p.master.ReadRegister(ctx, info.Address)
}

// Write writes a register by name.
func (p *Panel) Write(name string, v uint16) error {
	info, ok := protocol.LookupRegister(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownRegister)
	}
	if !info.Writable {
		return fmt.Errorf("%q: %w", name, ErrReadOnly)
	}
	return p.master.WriteRegister(info.Address, v)
}
