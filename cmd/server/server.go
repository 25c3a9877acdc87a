// Command server runs the OES core: the store, order book, ledger,
// matching engine, event bus, and session layer wired together, with every
// long-running subsystem started under one shared tomb.Tomb, mirroring the teacher's
// cmd/main.go accept-loop-under-a-tomb shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"

	"oes/internal/book"
	"oes/internal/bus"
	"oes/internal/config"
	"oes/internal/ledger"
	"oes/internal/matching"
	"oes/internal/session"
	"oes/internal/snapshot"
	"oes/internal/store"
)

func main() {
	configureLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s := store.NewMemStore()
	b := book.New(s)
	l := ledger.New()
	evt := bus.New(s, b, cfg.Snapshot(), cfg.Latency())
	eng := matching.New(b, l, evt, cfg.MatchTick())
	sessions := session.NewManager(evt)

	snapPath := "data/snapshot.json"
	snap := snapshot.New(s, snapPath, 10*time.Second)
	if cfg.NoClearData {
		if err := snapshot.Load(s, snapPath, b); err != nil {
			log.Error().Err(err).Msg("failed to restore snapshot; starting from an empty book")
		}
	}

	t, ctx := tomb.WithContext(ctx)
	evt.Run(t)
	eng.Run(t)
	snap.Run(t)
	sessions.Run(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Upgrade(w, r); err != nil {
			log.Error().Err(err).Msg("failed to upgrade websocket connection")
		}
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	t.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening for session connections")
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	log.Info().Msg("oes server running")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	n := eng.SweepDayOrders()
	log.Info().Int("cancelled", n).Msg("end-of-session day-order sweep complete")

	if err := snap.Save(); err != nil {
		log.Error().Err(err).Msg("final snapshot save failed")
	}

	t.Kill(nil)
	_ = t.Wait()
}

func configureLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("OES_ENV") == "production" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}
