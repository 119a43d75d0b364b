package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/storage"
)

// printDaily prints per-day, per-channel aggregates of stored readings
func printDaily(w io.Writer, cfg config.DatabaseConfig, days int, logger zerolog.Logger) error {
	store, err := storage.NewSQLiteStore(cfg.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	stats, err := store.GetDailyStats(storage.AllChannels, start, end)
	if err != nil {
		return err
	}

	writeDaily(w, stats)
	return nil
}

func writeDaily(w io.Writer, stats []storage.DailyStat) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "no data")
		return
	}
	for _, s := range stats {
		fmt.Fprintf(w, "%s C%d | MAX: %0.3f | MIN: %0.3f | AVG: %0.3f | N: %d\n",
			s.Date.Format("2006-01-02"),
			s.Channel,
			s.MaxTemperature,
			s.MinTemperature,
			s.AvgTemperature,
			s.ReadingCount,
		)
	}
}
