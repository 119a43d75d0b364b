package models

import "time"

// SessionInfo contains metadata about a sampling session
type SessionInfo struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Backend   string    `json:"backend"`
	Channels  []int     `json:"channels"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the session started
func (s *SessionInfo) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// NewSessionInfo creates a SessionInfo started now. The ID is derived
// from the host and the start time so that separate runs never collide
// in shared storage.
func NewSessionInfo(host, backend, version string, channels []int) *SessionInfo {
	now := time.Now()
	chans := make([]int, len(channels))
	copy(chans, channels)
	return &SessionInfo{
		ID:        host + "-" + now.UTC().Format("20060102T150405.000"),
		Host:      host,
		Backend:   backend,
		Channels:  chans,
		Version:   version,
		StartTime: now,
	}
}
