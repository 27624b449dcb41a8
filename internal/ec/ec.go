// Package ec provides byte-level access to the laptop embedded controller.
// Every backend serialises its own port traffic; callers that need several
// accesses to stay together (read-modify-write) hold their own lock.
package ec

import (
	"errors"
	"fmt"
	"strings"
)

type Reader interface {
	Read(reg byte) (byte, error)
}

type Writer interface {
	Write(reg byte, value byte) error
}

type ReadWriter interface {
	Reader
	Writer
}

// Device is a backend that owns an OS resource.
type Device interface {
	ReadWriter
	Close() error
}

const (
	BackendECSys  = "ecsys"
	BackendInpout = "inpout"
	BackendSim    = "sim"
)

var (
	ErrTimeout     = errors.New("timed out waiting for embedded controller")
	ErrUnsupported = errors.New("backend not supported on this platform")
)

// Open returns the named backend. The platform-specific backends return
// ErrUnsupported where they cannot run.
func Open(backend string) (Device, error) {
	switch strings.ToLower(backend) {
	case BackendECSys, "":
		return openECSys(ecSysPath)
	case BackendInpout:
		return openInpout(inpoutDLL)
	case BackendSim:
		return NewSim(), nil
	default:
		return nil, fmt.Errorf("unknown ec backend %q", backend)
	}
}

// ReadWord reads a 16-bit value from reg and reg+1. Tachometer counts are
// stored big-endian on most MSI boards.
func ReadWord(r Reader, reg byte, bigEndian bool) (uint16, error) {
	first, err := r.Read(reg)
	if err != nil {
		return 0, err
	}
	second, err := r.Read(reg + 1)
	if err != nil {
		return 0, err
	}
	if bigEndian {
		return uint16(first)<<8 | uint16(second), nil
	}
	return uint16(second)<<8 | uint16(first), nil
}
