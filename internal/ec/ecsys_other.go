//go:build !linux

package ec

const ecSysPath = ""

func openECSys(string) (Device, error) {
	return nil, ErrUnsupported
}
