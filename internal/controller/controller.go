// Package controller is the daemon core. It owns the EC, the active fan
// config and one curve engine per fan, and serialises client commands and
// the periodic tick against a single hardware lock.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/db"
	"github.com/thatsimonsguy/ec-fan-controller/internal/apply"
	"github.com/thatsimonsguy/ec-fan-controller/internal/curve"
	"github.com/thatsimonsguy/ec-fan-controller/internal/ec"
	"github.com/thatsimonsguy/ec-fan-controller/internal/fanconfig"
	"github.com/thatsimonsguy/ec-fan-controller/internal/ipc"
	"github.com/thatsimonsguy/ec-fan-controller/internal/metrics"
	"github.com/thatsimonsguy/ec-fan-controller/internal/notifications"
	"github.com/thatsimonsguy/ec-fan-controller/internal/store"
)

var (
	ErrNoConfig        = errors.New("no fan config loaded")
	ErrFanOutOfRange   = errors.New("fan index out of range")
	ErrNotConfigured   = errors.New("setting not present in fan config")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrNoRegister      = errors.New("fan has no register for this reading")
)

// History receives tick samples and apply results. db.Recorder implements it.
type History interface {
	RecordSamples(samples []db.Sample) error
	RecordApply(a db.ApplyRecord) error
	RecordEvent(kind, detail string) error
}

// Notifier pushes an alert to the user. notifications.Send implements it.
type Notifier func(a notifications.Alert) error

type Options struct {
	Interval     time.Duration
	CriticalTemp int // 0 disables the guard
	GuardHold    time.Duration
	Store        *store.Store
	History      History
	Notify       Notifier
	Now          func() time.Time
}

type Controller struct {
	hw      ec.ReadWriter
	applier *apply.Applier
	opts    Options

	requests chan request
	stopped  chan struct{}

	// mu is the hardware lock. Everything below is only touched with it held.
	mu        sync.Mutex
	cfg       *fanconfig.Config
	fans      []*fan
	fullBlast bool
	guard     override

	tickFailures int
}

type fan struct {
	index   int
	profile *fanconfig.FanProfile
	engine  *curve.Engine

	lastApplied int // -1 until a decision has been written
	temp        int
	haveTemp    bool
}

type request struct {
	ctx   context.Context
	cmd   ipc.Command
	reply chan ipc.Response
}

func New(hw ec.ReadWriter, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.GuardHold <= 0 {
		opts.GuardHold = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		hw:       hw,
		applier:  apply.New(hw),
		opts:     opts,
		requests: make(chan request),
		stopped:  make(chan struct{}),
		guard:    override{name: "critical temperature", minOn: opts.GuardHold},
	}
}

// Run processes submitted commands in arrival order and ticks every
// Interval until ctx is cancelled. It returns once the tick goroutine has
// exited, and closes Stopped on the way out.
func (c *Controller) Run(ctx context.Context) {
	log.Info().Dur("interval", c.opts.Interval).Msg("Starting fan controller")
	defer close(c.stopped)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.tickLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info().Msg("Fan controller stopped")
			return
		case req := <-c.requests:
			if req.ctx.Err() != nil {
				continue
			}
			req.reply <- c.Handle(req.cmd)
		}
	}
}

func (c *Controller) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Stopped is closed when Run has returned. No tick touches the EC after that.
func (c *Controller) Stopped() <-chan struct{} { return c.stopped }

// Submit queues cmd on the command stream and waits for its response.
func (c *Controller) Submit(ctx context.Context, cmd ipc.Command) ipc.Response {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan ipc.Response, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ipc.Failure{Command: cmd.CommandKind(), Error: ctx.Err().Error()}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return ipc.Failure{Command: cmd.CommandKind(), Error: ctx.Err().Error()}
	}
}

// Handle runs one command under the hardware lock.
func (c *Controller) Handle(cmd ipc.Command) ipc.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.handle(cmd)
	metrics.Commands.WithLabelValues(string(cmd.CommandKind()), metrics.Result(err)).Inc()
	if err != nil {
		log.Warn().Err(err).Str("command", string(cmd.CommandKind())).Msg("Command failed")
		return ipc.Failure{Command: cmd.CommandKind(), Error: err.Error()}
	}
	return resp
}

func (c *Controller) handle(cmd ipc.Command) (ipc.Response, error) {
	if ac, ok := cmd.(ipc.ApplyConfig); ok {
		cfg, err := fanconfig.Load([]byte(ac.Document))
		if err != nil {
			return nil, err
		}
		if err := c.install(cfg, true); err != nil {
			return nil, err
		}
		return ipc.Ack{Command: cmd.CommandKind()}, nil
	}

	if c.cfg == nil {
		return nil, ErrNoConfig
	}

	switch cmd := cmd.(type) {
	case ipc.SetFullBlast:
		return c.ack(cmd, c.setFullBlast(cmd.Enabled))
	case ipc.SetChargeLimit:
		return c.ack(cmd, c.setChargeLimit(cmd.Value))
	case ipc.SetPerformanceMode:
		return c.ack(cmd, c.setPerformanceMode(cmd.Mode))
	case ipc.SetKeySwap:
		return c.ack(cmd, c.setKeySwap(cmd.Enabled))
	case ipc.GetTemperature:
		f, err := c.fan(cmd.Fan)
		if err != nil {
			return nil, err
		}
		temp, err := c.readTemp(f)
		if err != nil {
			return nil, err
		}
		return ipc.Temperature{Fan: cmd.Fan, Value: temp}, nil
	case ipc.GetFanSpeed:
		f, err := c.fan(cmd.Fan)
		if err != nil {
			return nil, err
		}
		pct, err := c.readSpeed(f)
		if err != nil {
			return nil, err
		}
		return ipc.FanSpeed{Fan: cmd.Fan, Value: pct}, nil
	case ipc.GetFanRPM:
		f, err := c.fan(cmd.Fan)
		if err != nil {
			return nil, err
		}
		rpm, err := c.readRPM(f)
		if err != nil {
			return nil, err
		}
		return ipc.FanRPM{Fan: cmd.Fan, Value: rpm}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ipc.ErrUnknownKind, cmd.CommandKind())
	}
}

func (c *Controller) ack(cmd ipc.Command, err error) (ipc.Response, error) {
	if err != nil {
		return nil, err
	}
	return ipc.Ack{Command: cmd.CommandKind()}, nil
}

func (c *Controller) fan(i int) (*fan, error) {
	if i < 0 || i >= len(c.fans) {
		return nil, fmt.Errorf("%w: %d", ErrFanOutOfRange, i)
	}
	return c.fans[i], nil
}

// Load installs a config read from disk at startup. It is not persisted
// again.
func (c *Controller) Load(cfg *fanconfig.Config) error {
	if err := fanconfig.Validate(cfg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.install(cfg.Clone(), false)
}

// install swaps in cfg and fresh engines, then programs every register.
// The swap happens even if programming fails: the hardware is then in an
// undefined state and the next tick rewrites each fan's decision.
func (c *Controller) install(cfg *fanconfig.Config, persist bool) error {
	fans := make([]*fan, len(cfg.FanProfiles))
	for i := range cfg.FanProfiles {
		p := &cfg.FanProfiles[i]
		fans[i] = &fan{
			index:       i,
			profile:     p,
			engine:      curve.New(p.SelectedCurve().Thresholds),
			lastApplied: -1,
		}
	}
	c.cfg = cfg
	c.fans = fans

	plan := apply.PlanAll(cfg)
	err := c.applier.ApplyAll(cfg)

	record := db.ApplyRecord{
		AppliedAt: c.opts.Now(),
		Model:     cfg.Model,
		Author:    cfg.Author,
		Writes:    len(plan),
		OK:        err == nil,
	}
	if err != nil {
		record.Error = err.Error()
		metrics.RegisterWrites.WithLabelValues("apply", "error").Inc()
		c.notify(notifications.Alert{Kind: notifications.ApplyFailed, Model: cfg.Model, Err: err})
	} else {
		metrics.RegisterWrites.WithLabelValues("apply", "ok").Add(float64(len(plan)))
		for _, f := range fans {
			f.lastApplied = int(f.engine.Speed())
		}
	}
	c.recordApply(record)

	// Full blast survives a config swap when the new config can express it.
	if err == nil && (c.fullBlast || c.guard.active) {
		if cfg.FullBlast != nil {
			err = apply.SetBits(c.hw, cfg.FullBlast.Reg.Byte(), cfg.FullBlast.Mask, true)
		} else {
			c.fullBlast = false
			c.guard.active = false
			metrics.FullBlast.Set(0)
		}
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("model", cfg.Model).
		Str("author", cfg.Author).
		Int("fans", len(fans)).
		Int("writes", len(plan)).
		Msg("Fan config applied")

	if persist {
		c.persist()
	}
	return nil
}

func (c *Controller) persist() {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.Save(c.cfg); err != nil {
		log.Error().Err(err).Str("path", c.opts.Store.Path()).Msg("Failed to persist active fan config")
	}
}

func (c *Controller) setFullBlast(enabled bool) error {
	fb := c.cfg.FullBlast
	if fb == nil {
		return fmt.Errorf("%w: fullBlast", ErrNotConfigured)
	}
	// The guard keeps the bits set until it releases.
	set := enabled || c.guard.active
	if err := apply.SetBits(c.hw, fb.Reg.Byte(), fb.Mask, set); err != nil {
		return err
	}
	c.fullBlast = enabled
	metrics.FullBlast.Set(boolGauge(set))
	c.recordEvent("full_blast", fmt.Sprintf("enabled=%t", enabled))
	log.Info().Bool("enabled", enabled).Msg("Full blast changed")
	return nil
}

func (c *Controller) setChargeLimit(value uint8) error {
	cl := c.cfg.ChargeLimit
	if cl == nil {
		return fmt.Errorf("%w: chargeLimit", ErrNotConfigured)
	}
	if value > cl.Range() {
		return fmt.Errorf("%w: charge limit %d exceeds %d", ErrValueOutOfRange, value, cl.Range())
	}
	if err := c.applier.ApplyStep(cl.Reg.Byte(), apply.ChargeLimitValue(cl, value)); err != nil {
		return err
	}
	cl.Value = value
	c.persist()
	log.Info().Uint8("value", value).Msg("Charge limit changed")
	return nil
}

func (c *Controller) setPerformanceMode(mode int) error {
	pm := c.cfg.PerformanceMode
	if pm == nil {
		return fmt.Errorf("%w: performanceMode", ErrNotConfigured)
	}
	if mode < 0 || mode >= len(pm.Modes) {
		return fmt.Errorf("%w: performance mode %d", ErrValueOutOfRange, mode)
	}
	if err := c.applier.ApplyStep(pm.Reg.Byte(), pm.Modes[mode].Value); err != nil {
		return err
	}
	pm.ModeSel = mode
	c.persist()
	log.Info().Str("mode", pm.Modes[mode].Name).Msg("Performance mode changed")
	return nil
}

func (c *Controller) setKeySwap(enabled bool) error {
	ks := c.cfg.KeySwap
	if ks == nil {
		return fmt.Errorf("%w: keySwap", ErrNotConfigured)
	}
	if err := c.applier.ApplyStep(ks.Reg.Byte(), apply.KeySwapValue(ks, enabled)); err != nil {
		return err
	}
	ks.Enabled = enabled
	c.persist()
	log.Info().Bool("enabled", enabled).Msg("Key swap changed")
	return nil
}

// RevertOverrides clears full blast if a client or the guard left it on.
// It is registered as a shutdown hook.
func (c *Controller) RevertOverrides() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg == nil || c.cfg.FullBlast == nil || !(c.fullBlast || c.guard.active) {
		return nil
	}
	fb := c.cfg.FullBlast
	if err := apply.SetBits(c.hw, fb.Reg.Byte(), fb.Mask, false); err != nil {
		return err
	}
	c.fullBlast = false
	c.guard.active = false
	metrics.FullBlast.Set(0)
	log.Info().Msg("Full blast reverted")
	return nil
}

// Config returns a copy of the active config, or nil.
func (c *Controller) Config() *fanconfig.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return nil
	}
	return c.cfg.Clone()
}

func (c *Controller) notify(a notifications.Alert) {
	if c.opts.Notify == nil {
		return
	}
	if err := c.opts.Notify(a); err != nil {
		log.Warn().Err(err).Str("kind", string(a.Kind)).Msg("Failed to send notification")
	}
}

func (c *Controller) recordApply(a db.ApplyRecord) {
	if c.opts.History == nil {
		return
	}
	if err := c.opts.History.RecordApply(a); err != nil {
		log.Warn().Err(err).Msg("Failed to record apply")
	}
}

func (c *Controller) recordEvent(kind, detail string) {
	if c.opts.History == nil {
		return
	}
	if err := c.opts.History.RecordEvent(kind, detail); err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to record event")
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
