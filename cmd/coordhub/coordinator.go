package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/leapmux/leapmux/internal/config"
	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/bus/httpbus"
	"github.com/leapmux/leapmux/internal/coordination/bus/localbus"
	"github.com/leapmux/leapmux/internal/coordination/session"
	"github.com/leapmux/leapmux/internal/logging"
)

func runCoordinator(args []string) error {
	configPath, rest := extractConfigFlag(args)

	cfg, err := config.LoadCoordinatorConfig(rest, configPath)
	if err != nil {
		return err
	}

	logging.PrintStartupInfo("coordinator", version, cfg.DisplayName)

	var b bus.Bus
	if cfg.LocalBusPath != "" {
		b = localbus.New()
	} else {
		b = httpbus.New(cfg.ServerURL, nil)
	}

	sess, err := session.Load(b, cfg.StateDir, cfg.StaleAfter)
	if err != nil {
		sess, err = session.Create(context.Background(), b, cfg.DisplayName, cfg.StateDir, cfg.StaleAfter)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		slog.Info("coordinator session created", "ns_id", sess.State.NsID, "coordinator_id", sess.State.CoordinatorID)
	} else {
		slog.Info("coordinator session resumed", "ns_id", sess.State.NsID, "coordinator_id", sess.State.CoordinatorID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	admin := newAdminServer(cfg.AdminAddr, sess)
	go func() {
		slog.Info("admin listener starting", "addr", cfg.AdminAddr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin listener stopped", "error", err)
		}
	}()

	go sweepLoop(ctx, sess, cfg.StaleAfter)

	runCoordinationLoop(ctx, sess)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	return nil
}

// runCoordinationLoop blocks the coordinator on its own inbox, feeding
// every observed message into the registry/pending-permission state
// machines (§4.4). It never answers permission requests: the admin
// listener only lists them (GET /permissions), and an answer is sent by
// calling Session.GrantPermission, which this command does not do.
func runCoordinationLoop(ctx context.Context, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := sess.Context.WaitForMessages(ctx, 10*time.Second, true)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("coordinator: receive failed", "error", err)
			continue
		}
		for _, rm := range msgs {
			sess.ObserveMessage(rm)
			slog.Debug("coordinator: observed message", "type", rm.Message.Type(), "from", rm.FromID)
		}
	}
}

// sweepLoop periodically marks silent agents dead and expires
// unanswered permission requests, at a quarter of the staleness window
// so a sweep never lags more than one cycle behind the deadline.
func sweepLoop(ctx context.Context, sess *session.Session, staleAfter time.Duration) {
	interval := staleAfter / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dead := sess.Registry.SweepStale(); len(dead) > 0 {
				slog.Info("coordinator: swept stale agents", "agents", dead)
			}
			if expired := sess.Pending.SweepExpired(); len(expired) > 0 {
				slog.Info("coordinator: expired permission requests", "requests", expired)
			}
		}
	}
}
