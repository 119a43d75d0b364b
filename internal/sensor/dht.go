package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/afroash/dht"
)

// DHT reads a DHT11 wired to a GPIO pin. The DHT11 has no separate attach
// handshake, so Open treats the first successful reading as attachment.
type DHT struct {
	channel    int
	pin        int
	maxRetries int
	sensor     *dht.Sensor
}

// NewDHT creates an unopened DHT11 handle for channel on the given pin
func NewDHT(channel, pin int) *DHT {
	return &DHT{
		channel:    channel,
		pin:        pin,
		maxRetries: 3,
	}
}

// Channel returns the channel this handle serves
func (d *DHT) Channel() int {
	return d.channel
}

// Open claims the GPIO line and waits for a first reading
func (d *DHT) Open(timeout time.Duration) error {
	sensor, err := dht.NewDHT11(d.pin)
	if err != nil {
		return fmt.Errorf("channel %d: open dht11 on pin %d: %w", d.channel, d.pin, err)
	}

	err = attachWithin(d.channel, timeout, func() error {
		_, err := sensor.ReadRetry(d.maxRetries)
		return err
	}, func(error) {
		// The line is only released once ReadRetry has returned
		sensor.Close()
	})
	if errors.Is(err, ErrAttachmentTimeout) {
		return err
	}
	if err != nil {
		sensor.Close()
		return err
	}

	d.sensor = sensor
	return nil
}

// Temperature reads the sensor with retry logic
func (d *DHT) Temperature() (float64, error) {
	if d.sensor == nil {
		return 0, ErrNotOpen
	}
	reading, err := d.sensor.ReadRetry(d.maxRetries)
	if err != nil {
		return 0, fmt.Errorf("channel %d: after %d retries, failed to read from sensor: %w", d.channel, d.maxRetries, err)
	}
	if err := validateDHT11(reading.Temperature); err != nil {
		return 0, fmt.Errorf("channel %d: invalid reading: %w", d.channel, err)
	}
	return reading.Temperature, nil
}

// Close cleans up GPIO resources
func (d *DHT) Close() error {
	if d.sensor == nil {
		return nil
	}
	err := d.sensor.Close()
	d.sensor = nil
	return err
}

// validateDHT11 checks the value against the sensor's rated range with
// some slack. The DHT11 occasionally returns garbage that passes its
// checksum.
func validateDHT11(temp float64) error {
	const (
		minTemp = -20.0
		maxTemp = 60.0
	)
	if temp < minTemp || temp > maxTemp {
		return fmt.Errorf("temperature %.1f°C outside %.0f..%.0f°C", temp, minTemp, maxTemp)
	}
	return nil
}
