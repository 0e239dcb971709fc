package main

import (
	"context"
	"fmt"

	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/history"
	"github.com/itohio/pumpctl/pkg/session"
	"github.com/rs/zerolog"
)

// runHeadless runs one session until ctx is done or the transport fails.
func runHeadless(ctx context.Context, cfg *config.Config, useMock, auto bool, log zerolog.Logger) error {
	opts, err := newSessionOptions(cfg, history.New(historyCapacity), log)
	if err != nil {
		return err
	}

	sess := session.New(cfg, newTransport(cfg, useMock, log), session.NewLogPresenter(log), opts)
	if err := sess.Start(ctx); err != nil {
		closeOptions(opts)
		return fmt.Errorf("connect: %w", err)
	}

	if auto {
		if err := sess.SetMode(control.Auto); err != nil {
			sess.Close()
			return err
		}
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case <-sess.Done():
	}

	closeErr := sess.Close()
	if err := sess.Err(); err != nil {
		return err
	}
	return closeErr
}
