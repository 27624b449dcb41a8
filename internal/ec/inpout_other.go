//go:build !windows

package ec

const inpoutDLL = ""

func openInpout(string) (Device, error) {
	return nil, ErrUnsupported
}
