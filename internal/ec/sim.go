package ec

import (
	"errors"
	"sync"
)

var ErrInjected = errors.New("injected ec failure")

// Write records one write issued to a Sim.
type Write struct {
	Reg   byte
	Value byte
}

// Sim is an in-memory EC. It backs the "sim" backend and doubles as the test
// double for every package that talks to hardware.
type Sim struct {
	mu        sync.Mutex
	regs      [256]byte
	writes    []Write
	reads     int
	failWrite int
	failRegs  map[byte]bool
	failRead  map[byte]bool
}

func NewSim() *Sim {
	return &Sim{failRegs: map[byte]bool{}, failRead: map[byte]bool{}}
}

func (s *Sim) Read(reg byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.failRead[reg] {
		return 0, ErrInjected
	}
	return s.regs[reg], nil
}

func (s *Sim) Write(reg byte, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRegs[reg] {
		return ErrInjected
	}
	if s.failWrite > 0 && len(s.writes)+1 >= s.failWrite {
		s.failWrite = 0
		return ErrInjected
	}
	s.writes = append(s.writes, Write{Reg: reg, Value: value})
	s.regs[reg] = value
	return nil
}

func (s *Sim) Close() error { return nil }

// Set changes a register without recording a write, as the EC firmware would.
func (s *Sim) Set(reg byte, value byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg] = value
}

// Get returns a register without counting a read.
func (s *Sim) Get(reg byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

// Writes returns a copy of every successful write in order.
func (s *Sim) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

func (s *Sim) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Sim) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

// FailNthWrite makes the nth write from now fail once.
func (s *Sim) FailNthWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = len(s.writes) + n
}

// FailWritesTo makes every write to reg fail until cleared.
func (s *Sim) FailWritesTo(reg byte, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRegs[reg] = fail
}

func (s *Sim) FailReadsFrom(reg byte, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRead[reg] = fail
}
