package env

import (
	"github.com/thatsimonsguy/ec-fan-controller/internal/config"
)

// Cfg is the daemon settings loaded at startup.
var Cfg *config.Config
