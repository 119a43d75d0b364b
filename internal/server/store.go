package server

import (
	"sort"
	"sync"
	"time"

	"github.com/afroash/thermolog/internal/models"
)

// channelKey identifies one channel of one streamed session
type channelKey struct {
	session string
	channel int
}

// MemoryStore keeps the most recent readings of every session channel and
// the final summaries of finished sessions
type MemoryStore struct {
	capacity      int
	data          map[channelKey][]*models.Reading
	summaries     map[string][]models.ChannelSummary
	firstSeen     map[string]time.Time
	mutex         sync.RWMutex
	totalReadings int64
}

// NewMemoryStore creates a store holding up to capacity readings per channel
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity:  capacity,
		data:      make(map[channelKey][]*models.Reading),
		summaries: make(map[string][]models.ChannelSummary),
		firstSeen: make(map[string]time.Time),
	}
}

// Add adds a copy of the reading to the store
func (ms *MemoryStore) Add(reading *models.Reading) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	key := channelKey{reading.SessionID, reading.Channel}
	readings := ms.data[key]
	if len(readings) >= ms.capacity {
		readings = readings[1:]
	}
	ms.data[key] = append(readings, reading.Copy())
	if _, ok := ms.firstSeen[reading.SessionID]; !ok {
		ms.firstSeen[reading.SessionID] = time.Now()
	}
	ms.totalReadings++
}

// GetLatest returns up to n recent readings of a session channel, newest first
func (ms *MemoryStore) GetLatest(sessionID string, channel, n int) []*models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[channelKey{sessionID, channel}]
	if len(readings) == 0 {
		return nil
	}

	start := len(readings) - n
	if start < 0 {
		start = 0
	}

	result := make([]*models.Reading, len(readings)-start)
	for i, j := len(readings)-1, 0; i >= start; i, j = i-1, j+1 {
		result[j] = readings[i].Copy()
	}
	return result
}

// GetCurrentReading returns the most recent reading of a session channel
func (ms *MemoryStore) GetCurrentReading(sessionID string, channel int) *models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[channelKey{sessionID, channel}]
	if len(readings) == 0 {
		return nil
	}
	return readings[len(readings)-1].Copy()
}

// GetChannels returns the channels a session has streamed, ascending
func (ms *MemoryStore) GetChannels(sessionID string) []int {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var channels []int
	for key := range ms.data {
		if key.session == sessionID {
			channels = append(channels, key.channel)
		}
	}
	sort.Ints(channels)
	return channels
}

// GetSessionIDs returns the sessions seen by the store in arrival order
func (ms *MemoryStore) GetSessionIDs() []string {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	ids := make([]string, 0, len(ms.firstSeen))
	for id := range ms.firstSeen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := ms.firstSeen[ids[i]], ms.firstSeen[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})
	return ids
}

// SetSummary records the final statistics of a session
func (ms *MemoryStore) SetSummary(sessionID string, summaries []models.ChannelSummary) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.summaries[sessionID] = append([]models.ChannelSummary(nil), summaries...)
	if _, ok := ms.firstSeen[sessionID]; !ok {
		ms.firstSeen[sessionID] = time.Now()
	}
}

// GetSummary returns the final statistics of a finished session
func (ms *MemoryStore) GetSummary(sessionID string) ([]models.ChannelSummary, bool) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	s, ok := ms.summaries[sessionID]
	if !ok {
		return nil, false
	}
	return append([]models.ChannelSummary(nil), s...), true
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats() StoreStats {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := StoreStats{
		TotalReadings:    ms.totalReadings,
		Sessions:         len(ms.firstSeen),
		FinishedSessions: len(ms.summaries),
	}
	for _, readings := range ms.data {
		stats.CurrentReadings += len(readings)
		for _, r := range readings {
			if stats.OldestReading.IsZero() || r.Timestamp.Before(stats.OldestReading) {
				stats.OldestReading = r.Timestamp
			}
			if r.Timestamp.After(stats.NewestReading) {
				stats.NewestReading = r.Timestamp
			}
		}
	}
	return stats
}

// StoreStats contains statistics about the memory store
type StoreStats struct {
	TotalReadings    int64     `json:"total_readings"`
	Sessions         int       `json:"sessions"`
	FinishedSessions int       `json:"finished_sessions"`
	CurrentReadings  int       `json:"current_readings"`
	OldestReading    time.Time `json:"oldest_reading,omitempty"`
	NewestReading    time.Time `json:"newest_reading,omitempty"`
}

// Clear removes all data from the store
func (ms *MemoryStore) Clear() {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.data = make(map[channelKey][]*models.Reading)
	ms.summaries = make(map[string][]models.ChannelSummary)
	ms.firstSeen = make(map[string]time.Time)
	ms.totalReadings = 0
}
