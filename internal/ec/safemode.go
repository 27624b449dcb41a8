package ec

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// SafeMode wraps a device so that reads reach the hardware but writes are
// only logged. Reads of a register that was "written" return the shadowed
// value so the rest of the daemon behaves as if the write happened.
type SafeMode struct {
	dev    Device
	mu     sync.Mutex
	shadow map[byte]byte
}

func NewSafeMode(dev Device) *SafeMode {
	return &SafeMode{dev: dev, shadow: map[byte]byte{}}
}

func (s *SafeMode) Read(reg byte) (byte, error) {
	s.mu.Lock()
	v, ok := s.shadow[reg]
	s.mu.Unlock()
	if ok {
		return v, nil
	}
	return s.dev.Read(reg)
}

func (s *SafeMode) Write(reg byte, value byte) error {
	s.mu.Lock()
	s.shadow[reg] = value
	s.mu.Unlock()

	log.Info().
		Str("reg", fmt.Sprintf("0x%02X", reg)).
		Uint8("value", value).
		Msg("Safe mode: skipping EC write")
	return nil
}

func (s *SafeMode) Close() error { return s.dev.Close() }
