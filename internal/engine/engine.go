// Package engine runs the userspace WireGuard implementation in-process.
//
// The surface is deliberately narrow: a tunnel is activated with a device
// and a configuration in the userspace API format, identified afterwards by
// an integer handle, queried for its live configuration, and deactivated.
package engine

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"

	"grimm.is/wgtunnel/internal/logging"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun"
)

const modulePath = "golang.zx2c4.com/wireguard"

// Activation error codes.
const (
	CodeConfig   = -1
	CodeUp       = -2
	CodeHandles  = -3
	CodeNoDevice = -4
)

// ErrUnknownHandle is returned for a handle that is not active.
var ErrUnknownHandle = errors.New("engine: unknown handle")

// ActivationError reports why Activate failed. Code is negative.
type ActivationError struct {
	Code int
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("engine activation failed (code %d): %v", e.Code, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// Engine is the contract the engine backend consumes.
type Engine interface {
	// Activate starts a tunnel on dev. On success the engine owns dev.
	Activate(name string, dev tun.Device, config string) (int, error)
	Deactivate(handle int) error
	QueryConfig(handle int) (string, error)
	Version() string
}

type tunnel struct {
	name   string
	device *device.Device
}

// WireGuard implements Engine with wireguard-go.
type WireGuard struct {
	logger *logging.Logger
	// NewBind creates the UDP transport; conn.NewDefaultBind when nil.
	NewBind func() conn.Bind

	mu      sync.Mutex
	tunnels map[int]*tunnel
}

// New returns an engine with no active tunnels.
func New(logger *logging.Logger) *WireGuard {
	if logger == nil {
		logger = logging.WithComponent("engine")
	}
	return &WireGuard{logger: logger, tunnels: make(map[int]*tunnel)}
}

func (w *WireGuard) deviceLogger(name string) *device.Logger {
	l := w.logger.WithFields(map[string]any{"tunnel": name})
	return &device.Logger{
		Verbosef: func(format string, args ...any) {
			l.Debug(fmt.Sprintf(format, args...))
		},
		Errorf: func(format string, args ...any) {
			l.Error(fmt.Sprintf(format, args...))
		},
	}
}

// Activate implements Engine.
func (w *WireGuard) Activate(name string, dev tun.Device, config string) (int, error) {
	if dev == nil {
		return CodeNoDevice, &ActivationError{Code: CodeNoDevice, Err: errors.New("no device")}
	}
	bind := conn.NewDefaultBind()
	if w.NewBind != nil {
		bind = w.NewBind()
	}
	d := device.NewDevice(dev, bind, w.deviceLogger(name))

	if err := d.IpcSet(config); err != nil {
		d.Close()
		return CodeConfig, &ActivationError{Code: CodeConfig, Err: err}
	}
	if err := d.Up(); err != nil {
		d.Close()
		return CodeUp, &ActivationError{Code: CodeUp, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for h := 0; h < math.MaxInt32; h++ {
		if _, used := w.tunnels[h]; !used {
			w.tunnels[h] = &tunnel{name: name, device: d}
			w.logger.Info("Engine tunnel activated", "tunnel", name, "handle", h)
			return h, nil
		}
	}
	d.Close()
	return CodeHandles, &ActivationError{Code: CodeHandles, Err: errors.New("no free handles")}
}

// Deactivate implements Engine. The device passed to Activate is closed.
func (w *WireGuard) Deactivate(handle int) error {
	w.mu.Lock()
	t, ok := w.tunnels[handle]
	delete(w.tunnels, handle)
	w.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	t.device.Close()
	w.logger.Info("Engine tunnel deactivated", "tunnel", t.name, "handle", handle)
	return nil
}

// QueryConfig returns the userspace API "get" dump of an active tunnel.
func (w *WireGuard) QueryConfig(handle int) (string, error) {
	w.mu.Lock()
	t, ok := w.tunnels[handle]
	w.mu.Unlock()
	if !ok {
		return "", ErrUnknownHandle
	}
	return t.device.IpcGet()
}

// Version reports the linked wireguard-go module version.
func (w *WireGuard) Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return "unknown"
}
