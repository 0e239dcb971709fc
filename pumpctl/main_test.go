package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/history"
	"github.com/itohio/pumpctl/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantErr bool
		logged  bool
	}{
		{name: "info", cfg: config.LogConfig{Level: "info"}, logged: true},
		{name: "empty defaults to info", cfg: config.LogConfig{}, logged: true},
		{name: "error filters info", cfg: config.LogConfig{Level: "error"}, logged: false},
		{name: "invalid", cfg: config.LogConfig{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := newLogger(tt.cfg, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			log.Info().Str("k", "v").Msg("hello")
			if !tt.logged {
				assert.Zero(t, buf.Len())
				return
			}

			var rec map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
			assert.Equal(t, "hello", rec["message"])
			assert.Equal(t, "v", rec["k"])
			assert.Contains(t, rec, "time")
		})
	}
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(config.LogConfig{Level: "debug", Console: true}, &buf)
	require.NoError(t, err)

	log.Debug().Msg("pump started")
	assert.Contains(t, buf.String(), "pump started")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestSessionOptionsDisabled(t *testing.T) {
	cfg := config.Default()
	hist := history.New(10)

	opts, err := newSessionOptions(cfg, hist, zerolog.Nop())
	require.NoError(t, err)

	assert.NotNil(t, opts.Metrics)
	assert.Same(t, hist, opts.History)
	assert.Nil(t, opts.Publisher)
	assert.Nil(t, opts.Journal)
	assert.Empty(t, opts.Closers)
	assert.NoError(t, closeOptions(opts))
}

func TestSessionOptionsEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Listen = "127.0.0.1:0"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "events.db")

	opts, err := newSessionOptions(cfg, history.New(10), zerolog.Nop())
	require.NoError(t, err)

	assert.NotNil(t, opts.Journal)
	assert.Len(t, opts.Closers, 1)
	require.NoError(t, closeOptions(opts))

	// The journal file is released and can be reopened.
	opts, err = newSessionOptions(cfg, history.New(10), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, closeOptions(opts))
}

func TestJournalBacklog(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Path = filepath.Join(t.TempDir(), "events.db")

	opts, err := newSessionOptions(cfg, history.New(10), zerolog.Nop())
	require.NoError(t, err)
	entries, err := journalBacklog(opts, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "fresh journal")

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	opts.Journal.Append(control.Event{Time: at, Kind: control.EventStartup, Message: "System started."})
	opts.Journal.Append(control.Event{Time: at.Add(time.Second), Kind: control.EventModeChange, Message: "Mode changed to Auto."})
	require.NoError(t, closeOptions(opts))

	opts, err = newSessionOptions(cfg, history.New(10), zerolog.Nop())
	require.NoError(t, err)
	defer closeOptions(opts)

	entries, err = journalBacklog(opts, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-01 12:00:01 Mode changed to Auto."}, entries)

	entries, err = journalBacklog(session.Options{}, 1)
	assert.NoError(t, err)
	assert.Empty(t, entries, "journal disabled")
}

func TestSessionOptionsFailureClosesOpened(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Listen = "127.0.0.1:0"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "missing", "events.db")

	_, err := newSessionOptions(cfg, history.New(10), zerolog.Nop())
	assert.Error(t, err)
}

func TestRunHeadlessMock(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.Tick = 10 * time.Millisecond
	cfg.Mock.SampleRate = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.NoError(t, runHeadless(ctx, cfg, true, true, zerolog.Nop()))
}

func TestRunHeadlessOpenFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Port = filepath.Join(t.TempDir(), "no-such-port")

	err := runHeadless(context.Background(), cfg, false, false, zerolog.Nop())
	assert.ErrorContains(t, err, "connect")
}
