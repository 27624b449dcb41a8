//go:build linux

package ec

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ecSysPath is exposed by the ec_sys kernel module when loaded with
// write_support=1.
const ecSysPath = "/sys/kernel/debug/ec/ec0/io"

type ecSys struct {
	mu sync.Mutex
	fd int
}

func openECSys(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s (is ec_sys loaded with write_support=1?): %w", path, err)
	}
	return &ecSys{fd: fd}, nil
}

func (d *ecSys) Read(reg byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, 1)
	n, err := unix.Pread(d.fd, buf, int64(reg))
	if err != nil {
		return 0, fmt.Errorf("pread 0x%02X: %w", reg, err)
	}
	if n != 1 {
		return 0, fmt.Errorf("pread 0x%02X: short read", reg)
	}
	return buf[0], nil
}

func (d *ecSys) Write(reg byte, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := unix.Pwrite(d.fd, []byte{value}, int64(reg))
	if err != nil {
		return fmt.Errorf("pwrite 0x%02X: %w", reg, err)
	}
	if n != 1 {
		return fmt.Errorf("pwrite 0x%02X: short write", reg)
	}
	return nil
}

func (d *ecSys) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return unix.Close(d.fd)
}
