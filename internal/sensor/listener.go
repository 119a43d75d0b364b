package sensor

import "github.com/afroash/thermolog/internal/models"

// Listener receives readings as they are taken.
type Listener interface {
	OnReading(reading models.Reading)
}

// ListenerFunc adapts a plain function to a Listener.
type ListenerFunc func(reading models.Reading)

// OnReading calls f(reading)
func (f ListenerFunc) OnReading(reading models.Reading) {
	f(reading)
}

// TickListener is implemented by listeners that want to know when every
// channel has been read for a tick.
type TickListener interface {
	OnTickEnd(tick int)
}
