package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/models"
)

// AllChannels selects every channel in channel-filtered queries
const AllChannels = -1

// timeLayout is fixed width so that recorded_at sorts lexicographically
const timeLayout = "2006-01-02 15:04:05.000"

// Store defines the interface for reading storage
type Store interface {
	Close() error
	Migrate() error
	InsertReading(reading *models.Reading) error
	InsertBatch(readings []*models.Reading) error
	GetReadingsInRange(channel int, start, end time.Time, limit int) ([]*models.Reading, error)
	GetLatestReading(channel int) (*models.Reading, error)
	GetChannelStats(sessionID string) ([]models.ChannelSummary, error)
	GetDailyStats(channel int, start, end time.Time) ([]DailyStat, error)
	PruneSessions(cutoff time.Time, keep []string) (PruneResult, error)
	GetStorageStats() (*StorageStats, error)
	GetSessionIDs() ([]string, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore handles persistent storage of readings
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// DailyStat represents aggregated statistics for one channel on one day
type DailyStat struct {
	Date           time.Time `json:"date"`
	Channel        int       `json:"channel"`
	MinTemperature float64   `json:"min_temperature"`
	MaxTemperature float64   `json:"max_temperature"`
	AvgTemperature float64   `json:"avg_temperature"`
	ReadingCount   int       `json:"reading_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	UniqueChannels int       `json:"unique_channels"`
	UniqueSessions int       `json:"unique_sessions"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		channel INTEGER NOT NULL,
		temperature REAL NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_channel_time ON readings(channel, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_session ON readings(session_id, channel);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

const insertReading = `
	INSERT INTO readings (session_id, channel, temperature, recorded_at)
	VALUES (?, ?, ?, ?)
`

// InsertReading inserts a single reading into the database
func (s *SQLiteStore) InsertReading(reading *models.Reading) error {
	_, err := s.db.Exec(insertReading,
		reading.SessionID,
		reading.Channel,
		reading.Temperature,
		formatTime(reading.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple readings in a single transaction
func (s *SQLiteStore) InsertBatch(readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertReading)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		_, err := stmt.Exec(
			reading.SessionID,
			reading.Channel,
			reading.Temperature,
			formatTime(reading.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("failed to insert reading in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(readings)).Msg("Batch insert completed")
	return nil
}

// GetReadingsInRange returns readings within a time range, newest first.
// Pass AllChannels to include every channel.
func (s *SQLiteStore) GetReadingsInRange(channel int, start, end time.Time, limit int) ([]*models.Reading, error) {
	where, args := channelFilter(channel, "recorded_at BETWEEN ? AND ?", formatTime(start), formatTime(end))
	query := `
		SELECT id, session_id, channel, temperature, recorded_at
		FROM readings
		WHERE ` + where + `
		ORDER BY recorded_at DESC
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// GetLatestReading returns the most recent reading for a channel, or nil
// if the channel has none
func (s *SQLiteStore) GetLatestReading(channel int) (*models.Reading, error) {
	query := `
		SELECT id, session_id, channel, temperature, recorded_at
		FROM readings
		WHERE channel = ?
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	row := s.db.QueryRow(query, channel)
	reading, err := s.scanReading(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}

	return reading, nil
}

// GetChannelStats aggregates min/max/mean per channel for one session
func (s *SQLiteStore) GetChannelStats(sessionID string) ([]models.ChannelSummary, error) {
	query := `
		SELECT channel, COUNT(*), MIN(temperature), MAX(temperature), AVG(temperature)
		FROM readings
		WHERE session_id = ?
		GROUP BY channel
		ORDER BY channel
	`

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel stats: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelSummary
	for rows.Next() {
		var cs models.ChannelSummary
		if err := rows.Scan(&cs.Channel, &cs.Count, &cs.Min, &cs.Max, &cs.Mean); err != nil {
			return nil, fmt.Errorf("failed to scan channel stat: %w", err)
		}
		cs.HasMin, cs.HasMax = true, true
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// GetDailyStats returns aggregated daily statistics for a time range
func (s *SQLiteStore) GetDailyStats(channel int, start, end time.Time) ([]DailyStat, error) {
	where, args := channelFilter(channel, "recorded_at BETWEEN ? AND ?", formatTime(start), formatTime(end))
	query := `
		SELECT
			date(recorded_at) as day,
			channel,
			MIN(temperature),
			MAX(temperature),
			AVG(temperature),
			COUNT(*)
		FROM readings
		WHERE ` + where + `
		GROUP BY day, channel
		ORDER BY day DESC, channel
	`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var dateStr string

		err := rows.Scan(
			&dateStr,
			&stat.Channel,
			&stat.MinTemperature,
			&stat.MaxTemperature,
			&stat.AvgTemperature,
			&stat.ReadingCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}

		stat.Date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// PruneResult describes what a PruneSessions call removed
type PruneResult struct {
	Sessions []string `json:"sessions"`
	Channels int      `json:"channels"`
	Readings int64    `json:"readings"`
}

// PruneSessions removes whole sessions whose newest reading is older than
// cutoff. Sessions listed in keep are never touched, whatever their age.
func (s *SQLiteStore) PruneSessions(cutoff time.Time, keep []string) (PruneResult, error) {
	var res PruneResult

	tx, err := s.db.Begin()
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT session_id, COUNT(DISTINCT channel)
		FROM readings
		GROUP BY session_id
		HAVING MAX(recorded_at) < ?
		ORDER BY MIN(recorded_at)
	`, formatTime(cutoff))
	if err != nil {
		return res, fmt.Errorf("failed to find expired sessions: %w", err)
	}

	protected := make(map[string]bool, len(keep))
	for _, id := range keep {
		protected[id] = true
	}
	channels := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return res, fmt.Errorf("failed to scan expired session: %w", err)
		}
		if protected[id] {
			continue
		}
		res.Sessions = append(res.Sessions, id)
		channels[id] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("error iterating rows: %w", err)
	}

	stmt, err := tx.Prepare("DELETE FROM readings WHERE session_id = ?")
	if err != nil {
		return res, fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range res.Sessions {
		result, err := stmt.Exec(id)
		if err != nil {
			return PruneResult{}, fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return PruneResult{}, fmt.Errorf("failed to get rows affected: %w", err)
		}
		res.Readings += n
		res.Channels += channels[id]
	}

	if err := tx.Commit(); err != nil {
		return PruneResult{}, fmt.Errorf("failed to commit prune: %w", err)
	}
	return res, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&stats.TotalReadings)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	if stats.TotalReadings == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM readings").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}
	stats.OldestReading, _ = parseTime(oldestStr)
	stats.NewestReading, _ = parseTime(newestStr)

	err = s.db.QueryRow("SELECT COUNT(DISTINCT channel), COUNT(DISTINCT session_id) FROM readings").
		Scan(&stats.UniqueChannels, &stats.UniqueSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to count channels: %w", err)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetSessionIDs returns all session IDs, oldest session first
func (s *SQLiteStore) GetSessionIDs() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT session_id FROM readings
		GROUP BY session_id
		ORDER BY MIN(recorded_at)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query session IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ids, nil
}

// scanReading scans a row into a Reading
func (s *SQLiteStore) scanReading(row interface{ Scan(...interface{}) error }) (*models.Reading, error) {
	var r models.Reading
	var id int64
	var recordedAt string

	if err := row.Scan(&id, &r.SessionID, &r.Channel, &r.Temperature, &recordedAt); err != nil {
		return nil, err
	}

	ts, err := parseTime(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	r.Timestamp = ts

	return &r, nil
}

// scanReadings scans multiple rows into a slice of readings
func (s *SQLiteStore) scanReadings(rows *sql.Rows) ([]*models.Reading, error) {
	var readings []*models.Reading

	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

// channelFilter prefixes cond with a channel predicate unless channel is
// AllChannels
func channelFilter(channel int, cond string, args ...interface{}) (string, []interface{}) {
	if channel == AllChannels {
		return cond, args
	}
	clauses := []string{"channel = ?", cond}
	return strings.Join(clauses, " AND "), append([]interface{}{channel}, args...)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime tries the formats SQLite may hand back
func parseTime(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02 15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
