package sensor

import (
	"fmt"

	"github.com/afroash/thermolog/internal/config"
)

// NewFactory returns a Factory for the backend selected in cfg
func NewFactory(cfg config.SensorConfig) (Factory, error) {
	switch cfg.Backend {
	case config.BackendSimulated:
		sim := cfg.Simulated
		return func(channel int) (Handle, error) {
			return NewSimulated(channel, sim.Base, sim.Jitter, sim.AttachDelay, sim.Seed), nil
		}, nil

	case config.BackendDHT11:
		return func(channel int) (Handle, error) {
			pin, ok := cfg.GPIOPins[channel]
			if !ok {
				return nil, fmt.Errorf("channel %d: no GPIO pin configured", channel)
			}
			return NewDHT(channel, pin), nil
		}, nil

	case config.BackendI2C:
		return func(channel int) (Handle, error) {
			addr, ok := cfg.I2CAddresses[channel]
			if !ok {
				return nil, fmt.Errorf("channel %d: no I2C address configured", channel)
			}
			return NewI2C(channel, cfg.I2CBus, uint16(addr)), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown sensor backend %q", cfg.Backend)
	}
}
