package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/history"
	"github.com/itohio/pumpctl/pkg/journal"
	"github.com/itohio/pumpctl/pkg/mcu"
	"github.com/itohio/pumpctl/pkg/metrics"
	"github.com/itohio/pumpctl/pkg/publish"
	"github.com/itohio/pumpctl/pkg/session"
	"github.com/rs/zerolog"
)

// historyCapacity is the number of trend points kept for the chart.
const historyCapacity = 100

// newTransport returns the serial transport or the simulator.
func newTransport(cfg *config.Config, useMock bool, log zerolog.Logger) mcu.Transport {
	if useMock {
		log.Info().Msg("using simulated controller")
		return mcu.NewMock(cfg)
	}
	return mcu.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, log)
}

// newSessionOptions opens the optional sinks enabled in cfg. On error every
// sink opened so far is closed again.
func newSessionOptions(cfg *config.Config, hist *history.History, log zerolog.Logger) (session.Options, error) {
	opts := session.Options{
		Logger:  log,
		History: hist,
		Metrics: metrics.New(),
	}

	var opened []io.Closer
	fail := func(err error) (session.Options, error) {
		for i := len(opened) - 1; i >= 0; i-- {
			opened[i].Close()
		}
		return session.Options{}, err
	}

	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen, opts.Metrics, log)
		if err := srv.Start(); err != nil {
			return fail(fmt.Errorf("metrics: %w", err))
		}
		opened = append(opened, srv)
		opts.Closers = append(opts.Closers, srv)
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, log)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, j)
		opts.Journal = j
		opts.Metrics.WatchJournalDrops(j.Dropped)
	}

	if cfg.MQTT.Broker != "" {
		pub, err := publish.NewMQTT(cfg.MQTT, log)
		if err != nil {
			return fail(fmt.Errorf("mqtt: %w", err))
		}
		opened = append(opened, pub)
		opts.Publisher = pub
	}

	return opts, nil
}

// journalBacklog returns up to n journaled events from earlier runs as
// activity log entries, oldest first.
func journalBacklog(opts session.Options, n int) ([]string, error) {
	j, ok := opts.Journal.(*journal.Journal)
	if !ok {
		return nil, nil
	}
	events, err := j.Recent(n)
	if err != nil {
		return nil, err
	}
	entries := make([]string, len(events))
	for i, e := range events {
		entries[i] = e.Time.Format(time.DateTime) + " " + e.Message
	}
	return entries, nil
}

// closeOptions releases sinks of a session that never started.
func closeOptions(opts session.Options) error {
	var errs []error
	if opts.Publisher != nil {
		errs = append(errs, opts.Publisher.Close())
	}
	if c, ok := opts.Journal.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	for _, c := range opts.Closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
