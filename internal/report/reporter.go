// Package report prints readings as they arrive and the per-channel
// summary when a session ends.
package report

import (
	"fmt"
	"io"

	"github.com/afroash/thermolog/internal/models"
)

// Reporter writes human readable lines to an io.Writer. Every call writes
// immediately; nothing is batched.
type Reporter struct {
	w io.Writer
}

// New creates a reporter writing to w
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// OnReading prints one reading line
func (r *Reporter) OnReading(reading models.Reading) {
	fmt.Fprintln(r.w, reading.String())
}

// OnTickEnd separates ticks with a blank line
func (r *Reporter) OnTickEnd(tick int) {
	fmt.Fprintln(r.w)
}

// Banner prints the stop hint shown once all channels are attached
func (r *Reporter) Banner(hint string) {
	fmt.Fprintf(r.w, "\n --- %s ---\n\n", hint)
}

// Summary prints one line per channel. Channels without samples are
// reported as "no data".
func (r *Reporter) Summary(summaries []models.ChannelSummary) {
	for _, s := range summaries {
		fmt.Fprintln(r.w, s.String())
	}
}
