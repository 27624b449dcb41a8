package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/ec-fan-controller/internal/env"
)

var client *http.Client
var topic string
var initialized bool

// baseURL is overridden in tests.
var baseURL = "https://ntfy.sh"

type Kind string

const (
	ApplyFailed      Kind = "apply_failed"
	CriticalEngaged  Kind = "critical_engaged"
	CriticalReleased Kind = "critical_released"
)

// Alert is one fan event worth waking the user for.
type Alert struct {
	Kind  Kind
	Model string // ApplyFailed
	Err   error  // ApplyFailed
	Fan   string // Critical*
	Temp  int    // Critical*
	Limit int    // Critical*
}

func (a Alert) Title() string {
	switch a.Kind {
	case ApplyFailed:
		return "Fan config apply failed"
	case CriticalEngaged:
		return "Critical temperature"
	case CriticalReleased:
		return "Temperature back to normal"
	}
	return string(a.Kind)
}

func (a Alert) Message() string {
	switch a.Kind {
	case ApplyFailed:
		return fmt.Sprintf("%s: %v. Fan registers may be in a partial state until the next tick.", a.Model, a.Err)
	case CriticalEngaged:
		return fmt.Sprintf("%s at %d°C (limit %d°C), full blast forced on", a.Fan, a.Temp, a.Limit)
	case CriticalReleased:
		return fmt.Sprintf("%s at %d°C, fans returned to their curve", a.Fan, a.Temp)
	}
	return ""
}

// ntfy priorities run from 1 (min) to 5 (urgent).
func (a Alert) priority() int {
	switch a.Kind {
	case CriticalEngaged:
		return 5
	case ApplyFailed:
		return 4
	}
	return 3
}

func (a Alert) tags() []string {
	switch a.Kind {
	case CriticalEngaged:
		return []string{"fan", "fire"}
	case ApplyFailed:
		return []string{"fan", "warning"}
	}
	return []string{"fan"}
}

// Init initializes the notification client
func Init() {
	if env.Cfg.NtfyTopic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return
	}

	client = &http.Client{
		Timeout: 10 * time.Second,
	}
	topic = env.Cfg.NtfyTopic
	initialized = true

	log.Info().
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
}

// Enabled reports whether Init found a topic.
func Enabled() bool {
	return initialized
}

// Send posts an alert to the configured ntfy topic.
func Send(a Alert) error {
	if !initialized {
		return fmt.Errorf("notifications not initialized")
	}

	payload := map[string]interface{}{
		"topic":    topic,
		"title":    a.Title(),
		"message":  a.Message(),
		"priority": a.priority(),
		"tags":     a.tags(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest("POST", baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", a.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("kind", string(a.Kind)).
		Int("status", resp.StatusCode).
		Msg("Notification sent")

	return nil
}
