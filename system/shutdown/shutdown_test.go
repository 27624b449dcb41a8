package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureExit(t *testing.T) *int {
	t.Helper()
	code := -1
	saved := ExitFunc
	ExitFunc = func(c int) { code = c }
	t.Cleanup(func() {
		reset()
		ExitFunc = saved
	})
	return &code
}

func TestShutdown_RunsHooksInReverse(t *testing.T) {
	code := captureExit(t)
	var order []string

	Register("history", func() error { order = append(order, "history"); return nil })
	Register("full blast", func() error { order = append(order, "full blast"); return errors.New("ec busy") })
	Register("server", func() error { order = append(order, "server"); return nil })

	Shutdown()

	assert.Equal(t, []string{"server", "full blast", "history"}, order)
	assert.Equal(t, 0, *code)
}

func TestShutdownWithError_ExitsNonZero(t *testing.T) {
	code := captureExit(t)
	ran := 0
	Register("revert", func() error { ran++; return nil })

	ShutdownWithError(errors.New("ec gone"), "Lost embedded controller")
	assert.Equal(t, 1, *code)

	// hooks only run once even if shutdown is reached twice
	Shutdown()
	assert.Equal(t, 1, ran)
}
