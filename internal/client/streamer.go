package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
)

// Streamer forwards session readings to the remote collector. OnReading
// only enqueues, so a slow or absent collector never stalls sampling.
type Streamer struct {
	conn          *Connection
	buffer        *ReadingBuffer
	flushInterval time.Duration
	batchSize     int
	logger        zerolog.Logger

	stopFlush context.CancelFunc
	stopConn  context.CancelFunc
	flushWG   sync.WaitGroup
	connWG    sync.WaitGroup
}

// NewStreamer wires a buffer to a connection for the given session
func NewStreamer(cfg config.StreamConfig, session *models.SessionInfo, logger zerolog.Logger) *Streamer {
	conn := NewConnection(ConnectionConfigFrom(cfg), session, logger)
	buffer := NewReadingBuffer(cfg.BufferSize, cfg.DropOldest)
	conn.queued = buffer.Len

	return &Streamer{
		conn:          conn,
		buffer:        buffer,
		flushInterval: cfg.FlushInterval,
		batchSize:     cfg.BatchSize,
		logger:        logger.With().Str("component", "streamer").Logger(),
	}
}

// OnReading buffers a reading for the next flush
func (s *Streamer) OnReading(reading models.Reading) {
	if !s.buffer.Push(reading) {
		s.logger.Warn().Int("channel", reading.Channel).Msg("Stream buffer full, dropping reading")
	}
}

// Start runs the connection and flush loops in the background. They
// outlive the sampling context so that Finish can still deliver the
// session summary.
func (s *Streamer) Start() {
	connCtx, stopConn := context.WithCancel(context.Background())
	flushCtx, stopFlush := context.WithCancel(context.Background())
	s.stopConn, s.stopFlush = stopConn, stopFlush

	s.connWG.Add(1)
	go func() {
		defer s.connWG.Done()
		s.conn.Run(connCtx)
	}()
	s.flushWG.Add(1)
	go func() {
		defer s.flushWG.Done()
		s.flushLoop(flushCtx)
	}()
}

func (s *Streamer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Flush sends buffered readings in batches while the connection is up.
// It returns the number of readings sent.
func (s *Streamer) Flush() int {
	sent := 0
	for s.conn.IsConnected() {
		batch := s.buffer.PopBatch(s.batchSize)
		if len(batch) == 0 {
			break
		}
		if err := s.conn.SendBatch(batch); err != nil {
			s.logger.Warn().Err(err).Int("count", len(batch)).Msg("Failed to send batch, requeueing")
			s.buffer.Requeue(batch)
			break
		}
		sent += len(batch)
	}
	return sent
}

// Finish stops the flush loop, sends what is left and the session summary
// if the collector is reachable, then closes the connection.
func (s *Streamer) Finish(summaries []models.ChannelSummary) {
	if s.stopFlush != nil {
		s.stopFlush()
		s.flushWG.Wait()
	}

	if s.conn.IsConnected() {
		s.Flush()
		if err := s.conn.SendSummary(summaries); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send session summary")
		}
	}
	if n := s.buffer.Len(); n > 0 {
		s.logger.Warn().Int("count", n).Msg("Readings left unsent")
	}

	if s.stopConn != nil {
		s.stopConn()
		s.connWG.Wait()
	}
	s.conn.Close()
}

// Connection exposes the underlying connection
func (s *Streamer) Connection() *Connection {
	return s.conn
}
