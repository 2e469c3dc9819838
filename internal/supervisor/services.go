// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/raydawg88/keeper/internal/logging"
)

// ServiceFunc adapts a plain run function to suture.Service.
type ServiceFunc func(ctx context.Context) error

// Serve implements suture.Service.
func (f ServiceFunc) Serve(ctx context.Context) error { return f(ctx) }

// HTTPService wraps an http.Server as a suture.Service with graceful
// shutdown. The sync manager and the orchestrator drain loop implement
// suture.Service directly and need no wrapper.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
}

// Serve runs the HTTP server until the context is canceled, then shuts it
// down gracefully.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.ListenAndServe()
	}()

	logging.Info().Str("addr", s.Server.Addr).Msg("HTTP server listening")

	select {
	case err := <-errCh:
		// ListenAndServe never returns nil; suture will restart us.
		return err
	case <-ctx.Done():
	}

	timeout := s.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown did not complete cleanly")
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		logging.Warn().Err(err).Msg("HTTP server exited with error")
	}
	logging.Info().Msg("HTTP server stopped")
	return ctx.Err()
}
