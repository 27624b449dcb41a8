// Package ipc carries commands from an unprivileged client to the daemon and
// responses back. Every message is a JSON envelope naming its kind plus a
// typed payload.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
)

type CommandKind string

const (
	KindApplyConfig        CommandKind = "apply_config"
	KindSetFullBlast       CommandKind = "set_full_blast"
	KindSetChargeLimit     CommandKind = "set_charge_limit"
	KindGetTemperature     CommandKind = "get_temperature"
	KindGetFanSpeed        CommandKind = "get_fan_speed"
	KindGetFanRPM          CommandKind = "get_fan_rpm"
	KindSetPerformanceMode CommandKind = "set_performance_mode"
	KindSetKeySwap         CommandKind = "set_key_swap"
)

type ResponseKind string

const (
	KindTemperature ResponseKind = "temperature"
	KindFanSpeed    ResponseKind = "fan_speed"
	KindFanRPM      ResponseKind = "fan_rpm"
	KindAck         ResponseKind = "ack"
	KindFailure     ResponseKind = "failure"
)

// RPMUnavailable is reported when the tachometer cannot be read or the fan is
// stopped. It is distinct from a reading of 0.
const RPMUnavailable = -1

var ErrUnknownKind = errors.New("unknown message kind")

type Command interface {
	CommandKind() CommandKind
}

// ApplyConfig carries a serialised config document. The daemon validates it
// and replaces its active config only if every rule passes.
type ApplyConfig struct {
	Document string `json:"document"`
}

type SetFullBlast struct {
	Enabled bool `json:"enabled"`
}

// SetChargeLimit sets the battery charge limit as an offset from the
// config's minimum; 0 disables it.
type SetChargeLimit struct {
	Value uint8 `json:"value"`
}

type GetTemperature struct {
	Fan int `json:"fan"`
}

type GetFanSpeed struct {
	Fan int `json:"fan"`
}

type GetFanRPM struct {
	Fan int `json:"fan"`
}

type SetPerformanceMode struct {
	Mode int `json:"mode"`
}

type SetKeySwap struct {
	Enabled bool `json:"enabled"`
}

func (ApplyConfig) CommandKind() CommandKind        { return KindApplyConfig }
func (SetFullBlast) CommandKind() CommandKind       { return KindSetFullBlast }
func (SetChargeLimit) CommandKind() CommandKind     { return KindSetChargeLimit }
func (GetTemperature) CommandKind() CommandKind     { return KindGetTemperature }
func (GetFanSpeed) CommandKind() CommandKind        { return KindGetFanSpeed }
func (GetFanRPM) CommandKind() CommandKind          { return KindGetFanRPM }
func (SetPerformanceMode) CommandKind() CommandKind { return KindSetPerformanceMode }
func (SetKeySwap) CommandKind() CommandKind         { return KindSetKeySwap }

type Response interface {
	ResponseKind() ResponseKind
}

// Temperature is in degrees Celsius as reported by the EC.
type Temperature struct {
	Fan   int `json:"fan"`
	Value int `json:"value"`
}

// FanSpeed is a percentage of the profile's speed range.
type FanSpeed struct {
	Fan   int `json:"fan"`
	Value int `json:"value"`
}

type FanRPM struct {
	Fan   int `json:"fan"`
	Value int `json:"value"`
}

// Ack confirms a mutating command succeeded.
type Ack struct {
	Command CommandKind `json:"command"`
}

// Failure reports a command the daemon rejected or could not carry out.
type Failure struct {
	Command CommandKind `json:"command"`
	Error   string      `json:"error"`
}

func (Temperature) ResponseKind() ResponseKind { return KindTemperature }
func (FanSpeed) ResponseKind() ResponseKind    { return KindFanSpeed }
func (FanRPM) ResponseKind() ResponseKind      { return KindFanRPM }
func (Ack) ResponseKind() ResponseKind         { return KindAck }
func (Failure) ResponseKind() ResponseKind     { return KindFailure }

func (t Temperature) String() string { return fmt.Sprintf("%d°C", t.Value) }
func (s FanSpeed) String() string    { return fmt.Sprintf("%d%%", s.Value) }

// Available reports whether the reading is a real tachometer value.
func (r FanRPM) Available() bool { return r.Value != RPMUnavailable }

func (r FanRPM) String() string {
	if !r.Available() {
		return "unavailable"
	}
	return fmt.Sprintf("%d RPM", r.Value)
}

type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Payload: raw})
}

func EncodeCommand(cmd Command) ([]byte, error) {
	return encode(string(cmd.CommandKind()), cmd)
}

func EncodeResponse(resp Response) ([]byte, error) {
	return encode(string(resp.ResponseKind()), resp)
}

func DecodeCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	var (
		cmd Command
		err error
	)
	switch CommandKind(env.Kind) {
	case KindApplyConfig:
		cmd, err = decodePayload[ApplyConfig](env)
	case KindSetFullBlast:
		cmd, err = decodePayload[SetFullBlast](env)
	case KindSetChargeLimit:
		cmd, err = decodePayload[SetChargeLimit](env)
	case KindGetTemperature:
		cmd, err = decodePayload[GetTemperature](env)
	case KindGetFanSpeed:
		cmd, err = decodePayload[GetFanSpeed](env)
	case KindGetFanRPM:
		cmd, err = decodePayload[GetFanRPM](env)
	case KindSetPerformanceMode:
		cmd, err = decodePayload[SetPerformanceMode](env)
	case KindSetKeySwap:
		cmd, err = decodePayload[SetKeySwap](env)
	default:
		return nil, fmt.Errorf("command %q: %w", env.Kind, ErrUnknownKind)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func DecodeResponse(data []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var (
		resp Response
		err  error
	)
	switch ResponseKind(env.Kind) {
	case KindTemperature:
		resp, err = decodePayload[Temperature](env)
	case KindFanSpeed:
		resp, err = decodePayload[FanSpeed](env)
	case KindFanRPM:
		resp, err = decodePayload[FanRPM](env)
	case KindAck:
		resp, err = decodePayload[Ack](env)
	case KindFailure:
		resp, err = decodePayload[Failure](env)
	default:
		return nil, fmt.Errorf("response %q: %w", env.Kind, ErrUnknownKind)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func decodePayload[T any](env envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return v, nil
}
