package server

import (
	"time"

	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/storage"
)

// ReadingStore defines the interface for live reading storage
// MemoryStore implements this interface
type ReadingStore interface {
	// Add adds a reading to the store
	Add(reading *models.Reading)

	// GetLatest returns the n most recent readings of a session channel (newest first)
	GetLatest(sessionID string, channel, n int) []*models.Reading

	// GetCurrentReading returns the most recent reading of a session channel
	GetCurrentReading(sessionID string, channel int) *models.Reading

	// GetChannels returns the channels a session has streamed
	GetChannels(sessionID string) []int

	// GetSessionIDs returns every session that has sent data
	GetSessionIDs() []string

	SetSummary(sessionID string, summaries []models.ChannelSummary)
	GetSummary(sessionID string) ([]models.ChannelSummary, bool)

	// Stats returns statistics about the store
	Stats() StoreStats

	// Clear removes all data from the store
	Clear()
}

// HistoricalStore defines the interface for persistent storage
// storage.SQLiteStore implements this interface
type HistoricalStore interface {
	GetReadingsInRange(channel int, start, end time.Time, limit int) ([]*models.Reading, error)
	GetLatestReading(channel int) (*models.Reading, error)
	GetChannelStats(sessionID string) ([]models.ChannelSummary, error)
	GetSessionIDs() ([]string, error)
	GetDailyStats(channel int, start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// ReadingWriter queues readings for persistence
// storage.DBWriter implements this interface
type ReadingWriter interface {
	Write(reading *models.Reading) bool
}

var (
	_ ReadingStore    = (*MemoryStore)(nil)
	_ HistoricalStore = (*storage.SQLiteStore)(nil)
	_ ReadingWriter   = (*storage.DBWriter)(nil)
)
