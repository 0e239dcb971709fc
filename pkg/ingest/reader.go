package ingest

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/itohio/pumpctl/pkg/mcu"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is used when NewReader gets a non-positive interval.
const DefaultPollInterval = 10 * time.Millisecond

// Reader polls a transport and pushes received lines into a queue.
type Reader struct {
	transport mcu.Transport
	queue     *Queue
	interval  time.Duration
	log       zerolog.Logger
}

// NewReader creates a reader. It does not start polling.
func NewReader(transport mcu.Transport, queue *Queue, pollInterval time.Duration, log zerolog.Logger) *Reader {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Reader{
		transport: transport,
		queue:     queue,
		interval:  pollInterval,
		log:       log,
	}
}

// Run polls until ctx is cancelled or the transport fails. It returns nil on
// cancellation and the transport error otherwise.
func (r *Reader) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.drain(ctx); err != nil {
			r.log.Error().Err(err).Msg("telemetry reader stopped")
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// drain reads every line the transport has buffered. Lines are trimmed;
// blank lines and lines that are not valid UTF-8 are dropped.
func (r *Reader) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		line, ok, err := r.transport.ReadLine()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if !utf8.ValidString(line) {
			r.log.Warn().Str("line", strings.ToValidUTF8(line, "?")).Msg("dropping line with invalid UTF-8")
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.log.Trace().Str("line", line).Msg("received")
		r.queue.Push(line)
	}
	return nil
}
