package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 10000
	defaultDailyDays    = 7
)

// APIHandler serves the collector's JSON query API
type APIHandler struct {
	store   ReadingStore
	history HistoricalStore
	active  func() []SessionConnection
	logger  zerolog.Logger
}

// NewAPIHandler creates an API handler backed by live data only
func NewAPIHandler(store ReadingStore, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:  store,
		logger: logger,
	}
}

// NewAPIHandlerWithHistory creates an API handler that also answers from
// persistent storage
func NewAPIHandlerWithHistory(store ReadingStore, history HistoricalStore, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(store, logger)
	api.history = history
	return api
}

// SetActiveSource reports connected samplers from h
func (api *APIHandler) SetActiveSource(h *Handler) {
	api.active = h.GetActiveSessions
}

// Register mounts every endpoint on mux
func (api *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", api.HandleSessions)
	mux.HandleFunc("/api/current", api.HandleCurrent)
	mux.HandleFunc("/api/history", api.HandleHistory)
	mux.HandleFunc("/api/summary", api.HandleSummary)
	mux.HandleFunc("/api/daily/stats", api.HandleDailyStats)
	mux.HandleFunc("/api/stats", api.HandleStats)
}

// SessionsResponse lists known sessions by where they were seen
type SessionsResponse struct {
	Live   []string            `json:"live"`
	Stored []string            `json:"stored,omitempty"`
	Active []SessionConnection `json:"active"`
}

// HandleSessions lists live, stored and connected sessions
func (api *APIHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	resp := SessionsResponse{
		Live:   api.store.GetSessionIDs(),
		Active: []SessionConnection{},
	}
	if api.active != nil {
		resp.Active = api.active()
	}
	if api.history != nil {
		stored, err := api.history.GetSessionIDs()
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to list stored sessions")
			http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
			return
		}
		resp.Stored = stored
	}
	writeJSON(w, resp)
}

// HandleCurrent returns the latest reading of each channel of a session, or
// of the channel given by ?channel=. A channel with nothing in memory falls
// back to its newest stored reading when no session was asked for.
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := -1
	if v := q.Get("channel"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil || ch < 0 {
			http.Error(w, "Invalid channel", http.StatusBadRequest)
			return
		}
		channel = ch
	}

	readings := make([]*models.Reading, 0)
	if sessionID, ok := api.sessionParam(r); ok {
		channels := api.store.GetChannels(sessionID)
		if channel >= 0 {
			channels = []int{channel}
		}
		for _, ch := range channels {
			if reading := api.store.GetCurrentReading(sessionID, ch); reading != nil {
				readings = append(readings, reading)
			}
		}
	}

	if len(readings) == 0 && channel >= 0 && q.Get("session") == "" && api.history != nil {
		reading, err := api.history.GetLatestReading(channel)
		if err != nil {
			api.logger.Error().Err(err).Int("channel", channel).Msg("Failed to load latest reading")
			http.Error(w, "Failed to load latest reading", http.StatusInternalServerError)
			return
		}
		if reading != nil {
			readings = append(readings, reading)
		}
	}

	if len(readings) == 0 {
		http.Error(w, "No readings available", http.StatusNotFound)
		return
	}
	writeJSON(w, readings)
}

// HandleHistory returns recent readings of one channel, newest first.
// With ?hours= the readings come from persistent storage across sessions.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel, err := queryInt(q.Get("channel"), 0)
	if err != nil || channel < 0 {
		http.Error(w, "Invalid channel", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultHistoryLimit)
	if err != nil || limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	if hoursStr := q.Get("hours"); hoursStr != "" {
		api.historyFromStorage(w, channel, hoursStr, limit)
		return
	}

	sessionID, ok := api.sessionParam(r)
	if !ok {
		writeJSON(w, []models.Reading{})
		return
	}
	readings := api.store.GetLatest(sessionID, channel, limit)
	if readings == nil {
		readings = []*models.Reading{}
	}
	writeJSON(w, readings)
}

func (api *APIHandler) historyFromStorage(w http.ResponseWriter, channel int, hoursStr string, limit int) {
	if api.history == nil {
		http.Error(w, "Historical data not available", http.StatusServiceUnavailable)
		return
	}
	hours, err := strconv.Atoi(hoursStr)
	if err != nil || hours <= 0 {
		http.Error(w, "Invalid hours", http.StatusBadRequest)
		return
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	readings, err := api.history.GetReadingsInRange(channel, start, end, limit)
	if err != nil {
		api.logger.Error().Err(err).Int("channel", channel).Msg("Failed to query readings")
		http.Error(w, "Failed to query readings", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []*models.Reading{}
	}
	writeJSON(w, readings)
}

// SummaryResponse carries per-channel statistics of one session
type SummaryResponse struct {
	SessionID string                  `json:"session_id"`
	Final     bool                    `json:"final"`
	Summaries []models.ChannelSummary `json:"summaries"`
	Lines     []string                `json:"lines"`
}

// HandleSummary returns the statistics of a session. Finished sessions
// report the summary the sampler sent; running ones are aggregated from
// storage.
func (api *APIHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := api.sessionParam(r)
	if !ok {
		http.Error(w, "No sessions found", http.StatusNotFound)
		return
	}

	resp := SummaryResponse{SessionID: sessionID}
	if summaries, final := api.store.GetSummary(sessionID); final {
		resp.Final = true
		resp.Summaries = summaries
	} else if api.history != nil {
		summaries, err := api.history.GetChannelStats(sessionID)
		if err != nil {
			api.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to query channel stats")
			http.Error(w, "Failed to query summary", http.StatusInternalServerError)
			return
		}
		resp.Summaries = summaries
	}
	if len(resp.Summaries) == 0 {
		http.Error(w, "No summary available", http.StatusNotFound)
		return
	}

	for _, s := range resp.Summaries {
		resp.Lines = append(resp.Lines, s.String())
	}
	writeJSON(w, resp)
}

// HandleDailyStats returns per-day aggregates for the last ?days= days
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		http.Error(w, "Historical data not available", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	channel, err := queryInt(q.Get("channel"), storage.AllChannels)
	if err != nil || channel < storage.AllChannels {
		http.Error(w, "Invalid channel", http.StatusBadRequest)
		return
	}
	days, err := queryInt(q.Get("days"), defaultDailyDays)
	if err != nil || days <= 0 {
		http.Error(w, "Invalid days", http.StatusBadRequest)
		return
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)
	stats, err := api.history.GetDailyStats(channel, start, end)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query daily stats")
		http.Error(w, "Failed to query daily stats", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}
	writeJSON(w, stats)
}

// StatsResponse combines live and persistent storage statistics
type StatsResponse struct {
	Live     StoreStats            `json:"live"`
	Database *storage.StorageStats `json:"database,omitempty"`
}

// HandleStats returns store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Live: api.store.Stats()}
	if api.history != nil {
		dbStats, err := api.history.GetStorageStats()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to read storage stats")
		} else {
			resp.Database = dbStats
		}
	}
	writeJSON(w, resp)
}

// sessionParam returns ?session= or the most recently seen live session
func (api *APIHandler) sessionParam(r *http.Request) (string, bool) {
	if id := r.URL.Query().Get("session"); id != "" {
		return id, true
	}
	ids := api.store.GetSessionIDs()
	if len(ids) == 0 {
		return "", false
	}
	return ids[len(ids)-1], true
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
