package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAttachmentTimeout is returned by Open when a device does not answer
// within the attachment bound. It is never retried.
var ErrAttachmentTimeout = errors.New("attachment timed out")

// ErrNotOpen is returned when a handle is read before Open succeeded.
var ErrNotOpen = errors.New("sensor handle is not open")

// Handle is one temperature input on the sensor hub. Handles are created
// unopened, opened once with an attachment bound, read synchronously and
// released with Close.
type Handle interface {
	// Channel returns the port index this handle is bound to
	Channel() int

	// Open attaches to the device, failing with ErrAttachmentTimeout if it
	// does not respond within timeout
	Open(timeout time.Duration) error

	// Temperature performs a blocking read in degrees Celsius
	Temperature() (float64, error)

	// Close releases the device
	Close() error
}

// Factory builds an unopened handle for a channel.
type Factory func(channel int) (Handle, error)

// attachWithin runs attach and waits at most timeout for it to finish.
// When the wait gives up, attach keeps running; abandon, if not nil, is
// then called from its goroutine with the late result so that whatever
// attach acquired can be released.
func attachWithin(channel int, timeout time.Duration, attach func() error, abandon func(error)) error {
	var (
		mu        sync.Mutex
		abandoned bool
	)
	done := make(chan error, 1)
	go func() {
		err := attach()
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if abandon != nil {
				abandon(err)
			}
			return
		}
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("channel %d: attach: %w", channel, err)
		}
		return nil
	case <-timer.C:
	}

	mu.Lock()
	abandoned = true
	mu.Unlock()

	// attach may have finished between the timer firing and the flag
	// being set; its result is then waiting in done.
	select {
	case err := <-done:
		if abandon != nil {
			abandon(err)
		}
	default:
	}
	return fmt.Errorf("channel %d: %w after %s", channel, ErrAttachmentTimeout, timeout)
}
