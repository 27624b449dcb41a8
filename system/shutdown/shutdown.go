package shutdown

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/internal/env"
)

// Hook puts the hardware back the way the daemon found it.
type Hook struct {
	Name string
	Fn   func() error
}

var (
	mu    sync.Mutex
	hooks []Hook
	once  sync.Once
)

// ExitFunc is replaced in tests.
var ExitFunc = os.Exit

// Register adds a hook. Hooks run in reverse registration order.
func Register(name string, fn func() error) {
	mu.Lock()
	defer mu.Unlock()
	hooks = append(hooks, Hook{Name: name, Fn: fn})
}

// RunHooks runs every registered hook once. A failing hook is logged and the
// rest still run.
func RunHooks() {
	once.Do(func() {
		mu.Lock()
		registered := append([]Hook(nil), hooks...)
		mu.Unlock()

		for i := len(registered) - 1; i >= 0; i-- {
			h := registered[i]
			if err := h.Fn(); err != nil {
				log.Error().Err(err).Str("hook", h.Name).Msg("Shutdown hook failed")
				continue
			}
			log.Info().Str("hook", h.Name).Msg("Shutdown hook complete")
		}
	})
}

func Shutdown() {
	RunHooks()
	if env.Cfg != nil && env.Cfg.SafeMode {
		log.Info().Msg("Safe mode shutdown complete")
	}
	ExitFunc(0)
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	RunHooks()
	ExitFunc(1)
}

// reset clears hooks for tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	hooks = nil
	once = sync.Once{}
}
