package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/kioskpos/internal/bootstrap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "kiosk-payments", "kiosk")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	kiosk, err := bootstrap.NewKiosk(app)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build payment core")
	}
	defer kiosk.Close()

	if kiosk.Lease != nil {
		if err := kiosk.Lease.Acquire(ctx); err != nil {
			app.Logger.Fatal().Err(err).Msg("Terminal is owned by another instance")
		}
		app.Logger.Info().Msg("Terminal lease acquired")
	}

	// Prime the cart so the first payment has an amount to fall back on.
	refreshCtx, cancel := context.WithTimeout(ctx, app.Config.Backend.Timeout)
	if err := kiosk.Backend.Refresh(refreshCtx); err != nil {
		app.Logger.Warn().Err(err).Msg("Initial cart refresh failed")
	}
	cancel()

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           kiosk.Router(app),
		ReadTimeout:       app.Config.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      app.Config.Server.WriteTimeout,
		IdleTimeout:       app.Config.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Str("terminal_mode", app.Config.Terminal.Mode).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if kiosk.Lease != nil {
		g.Go(func() error {
			if err := kiosk.Lease.Hold(gCtx); err != nil {
				return fmt.Errorf("terminal lease lost: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()

		// Leave the terminal idle before going away.
		kiosk.Machine.CancelPayment(shutdownCtx)

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Kiosk error")
	}
	app.Logger.Info().Msg("Server exited")
}
