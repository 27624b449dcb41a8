//go:build windows

package ec

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/windows"
)

const (
	inpoutDLL = "inpoutx64.dll"

	dataPort    = 0x62
	commandPort = 0x66
	cmdRead     = 0x80
	cmdWrite    = 0x81

	statusOBF = 1 << 0
	statusIBF = 1 << 1

	pollAttempts = 100
)

// inpout drives the EC through the standard ACPI command/data ports using
// the inpoutx64 kernel driver.
type inpout struct {
	mu    sync.Mutex
	dll   *windows.LazyDLL
	out32 *windows.LazyProc
	inp32 *windows.LazyProc
}

func openInpout(name string) (Device, error) {
	dll := windows.NewLazyDLL(name)
	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	out32 := dll.NewProc("Out32")
	inp32 := dll.NewProc("Inp32")
	if out32.Find() != nil || inp32.Find() != nil {
		return nil, fmt.Errorf("Inp32/Out32 not found in %s", name)
	}
	return &inpout{dll: dll, out32: out32, inp32: inp32}, nil
}

func (d *inpout) Read(reg byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitInputEmpty(); err != nil {
		return 0, err
	}
	d.out32.Call(commandPort, cmdRead)
	if err := d.waitInputEmpty(); err != nil {
		return 0, err
	}
	d.out32.Call(dataPort, uintptr(reg))
	if err := d.waitOutputFull(); err != nil {
		return 0, err
	}
	v, _, _ := d.inp32.Call(dataPort)
	return byte(v), nil
}

func (d *inpout) Write(reg byte, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitInputEmpty(); err != nil {
		return err
	}
	d.out32.Call(commandPort, cmdWrite)
	if err := d.waitInputEmpty(); err != nil {
		return err
	}
	d.out32.Call(dataPort, uintptr(reg))
	if err := d.waitInputEmpty(); err != nil {
		return err
	}
	d.out32.Call(dataPort, uintptr(value))
	return nil
}

func (d *inpout) Close() error { return nil }

func (d *inpout) status() uintptr {
	s, _, _ := d.inp32.Call(commandPort)
	return s
}

func (d *inpout) waitInputEmpty() error {
	for i := 0; i < pollAttempts; i++ {
		if d.status()&statusIBF == 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("input buffer: %w", ErrTimeout)
}

func (d *inpout) waitOutputFull() error {
	for i := 0; i < pollAttempts; i++ {
		if d.status()&statusOBF != 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("output buffer: %w", ErrTimeout)
}
