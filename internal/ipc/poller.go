package ipc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender is the part of Client a Poller needs.
type Sender interface {
	Send(Command) error
	State() State
}

// Poller enqueues one GetTemperature, one GetFanSpeed and one GetFanRPM per
// interval for the selected fan. Ticks are skipped while the sender is not
// connected. Stop is the only way to cancel it.
type Poller struct {
	sender   Sender
	interval time.Duration
	fan      atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewPoller(s Sender, fan int, interval time.Duration) *Poller {
	p := &Poller{
		sender:   s,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.fan.Store(int64(fan))
	return p
}

func (p *Poller) Start() {
	go p.loop()
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}

// SetFan switches polling to another fan from the next tick.
func (p *Poller) SetFan(fan int) { p.fan.Store(int64(fan)) }

func (p *Poller) Fan() int { return int(p.fan.Load()) }

func (p *Poller) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll enqueues one round of telemetry requests now. It reports false when
// the round was skipped or only partly queued.
func (p *Poller) Poll() bool {
	if p.sender.State() != Connected {
		return false
	}
	fan := p.Fan()
	for _, cmd := range []Command{GetTemperature{Fan: fan}, GetFanSpeed{Fan: fan}, GetFanRPM{Fan: fan}} {
		if err := p.sender.Send(cmd); err != nil {
			log.Debug().Err(err).Int("fan", fan).Msg("Poll skipped")
			return false
		}
	}
	return true
}
