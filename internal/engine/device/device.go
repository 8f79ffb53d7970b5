// Package device resolves which counting devices are present at runtime.
package device

import (
	"fmt"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/engine/table"
	"GoKmerSpectra/internal/model"
)

// Backend allocates counting tables on a kind of device.
type Backend interface {
	Name() string
	// Supported reports whether the backend can count at all. Hashers built
	// on an unsupported backend fail as soon as they start.
	Supported() bool
	// Available is the number of devices that can be used concurrently.
	Available() int
	NewTable(id int, thresholdMin uint32, scratchPath string) (model.CountingTable, error)
}

// Host emulates counting devices in host memory.
type Host struct {
	available int
	opts      table.Options
}

func NewHost(available int, opts table.Options) *Host {
	return &Host{available: available, opts: opts}
}

func (h *Host) Name() string    { return config.BackendHost }
func (h *Host) Supported() bool { return true }
func (h *Host) Available() int  { return h.available }

func (h *Host) NewTable(id int, thresholdMin uint32, scratchPath string) (model.CountingTable, error) {
	if id < 0 || id >= h.available {
		return nil, fmt.Errorf("%w: device %d not in [0,%d)", model.ErrConfiguration, id, h.available)
	}
	return table.NewHostTable(id, thresholdMin, scratchPath, h.opts), nil
}

// None is the backend of a build without counting devices.
type None struct{}

func (None) Name() string    { return config.BackendNone }
func (None) Supported() bool { return false }
func (None) Available() int  { return 0 }

func (None) NewTable(id int, _ uint32, _ string) (model.CountingTable, error) {
	return nil, fmt.Errorf("%w: no counting device support for device %d", model.ErrConfiguration, id)
}

// FromConfig selects the backend named in the configuration.
func FromConfig(cfg config.DeviceConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendHost, "":
		return NewHost(cfg.Available, table.Options{
			MaxCapacity: cfg.MaxCapacity,
			MinCapacity: cfg.MinCapacity,
			Strict:      cfg.Overcommit == config.OvercommitStrict,
		}), nil
	case config.BackendNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown device backend %q", model.ErrConfiguration, cfg.Backend)
	}
}
