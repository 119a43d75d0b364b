package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/client"
	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/publish"
	"github.com/afroash/thermolog/internal/sensor"
	"github.com/afroash/thermolog/internal/storage"
)

// outputs holds the optional reading sinks enabled in the config
type outputs struct {
	sessionID string
	logger    zerolog.Logger

	store    *storage.SQLiteStore
	writer   *storage.DBWriter
	cleaner  *storage.RetentionCleaner
	mqtt     *publish.MQTTPublisher
	streamer *client.Streamer
}

func openOutputs(cfg *config.Config, info *models.SessionInfo, logger zerolog.Logger) (*outputs, error) {
	o := &outputs{sessionID: info.ID, logger: logger}

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		o.store = store
		o.writer = storage.NewDBWriter(store, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, logger)
		o.cleaner = storage.NewRetentionCleaner(store, storage.RetentionCleanerConfig{
			RetentionDays:  cfg.Database.RetentionDays,
			CleanupPeriod:  cfg.Database.CleanupPeriod,
			ActiveSessions: func() []string { return []string{info.ID} },
		}, logger)
	}

	if cfg.MQTT.Enabled {
		p, err := publish.NewMQTTPublisher(cfg.MQTT, cfg.Session.Channels, logger)
		if err != nil {
			// A missing broker does not stop the measurement
			logger.Warn().Err(err).Msg("MQTT disabled for this session")
		} else {
			o.mqtt = p
		}
	}

	if cfg.Stream.Enabled {
		o.streamer = client.NewStreamer(cfg.Stream, info, logger)
		o.streamer.Start()
	}

	return o, nil
}

func (o *outputs) listeners() []sensor.Listener {
	var ls []sensor.Listener
	if o.writer != nil {
		ls = append(ls, o.writer)
	}
	if o.mqtt != nil {
		ls = append(ls, o.mqtt)
	}
	if o.streamer != nil {
		ls = append(ls, o.streamer)
	}
	return ls
}

// close flushes every sink and hands it the session summaries, which are
// nil in events mode
func (o *outputs) close(summaries []models.ChannelSummary) {
	if o.streamer != nil {
		o.streamer.Finish(summaries)
	}

	if o.mqtt != nil {
		if len(summaries) > 0 {
			if err := o.mqtt.PublishSummaries(summaries); err != nil {
				o.logger.Warn().Err(err).Msg("Failed to publish summaries")
			}
		}
		o.mqtt.Close()
	}

	if o.store != nil {
		o.writer.Stop()
		o.cleaner.Stop()

		ws := o.writer.Stats()
		o.logger.Info().
			Int64("written", ws.TotalWritten).
			Int64("errors", ws.TotalErrors).
			Int64("rejected", ws.TotalRejected).
			Msg("Readings persisted")

		if stored, err := o.store.GetChannelStats(o.sessionID); err == nil {
			for _, s := range stored {
				o.logger.Debug().Int("channel", s.Channel).Int("count", s.Count).Msg("Stored channel readings")
			}
		}
		if err := o.store.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
