package models

import "fmt"

// ChannelSummary holds the end-of-session statistics for one channel.
// Max and Min are only meaningful when HasMax and HasMin are set.
type ChannelSummary struct {
	Channel int     `json:"channel"`
	Count   int     `json:"count"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	Mean    float64 `json:"mean"`
	HasMax  bool    `json:"has_max"`
	HasMin  bool    `json:"has_min"`
}

// NoData reports whether the channel finished the session without samples.
func (s ChannelSummary) NoData() bool {
	return s.Count == 0
}

// String formats the summary line printed when a session ends.
func (s ChannelSummary) String() string {
	if s.NoData() {
		return fmt.Sprintf("C%d | no data", s.Channel)
	}
	return fmt.Sprintf("C%d | MAX: %s | MIN: %s | AVG: %0.3f",
		s.Channel,
		optional(s.Max, s.HasMax),
		optional(s.Min, s.HasMin),
		s.Mean,
	)
}

func optional(v float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%0.3f", v)
}
