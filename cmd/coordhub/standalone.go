package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/bootstrap"
	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/bus/localbus"
	"github.com/leapmux/leapmux/internal/coordination/session"
	"github.com/leapmux/leapmux/internal/coordination/workerkit"
	"github.com/leapmux/leapmux/internal/logging"
)

// runStandalone runs a coordinator and a single worker in one process
// over a shared in-memory local bus, the fastest way to try coordhub
// without a remote deaddrop server -- grounded on the teacher's
// runStandalone, which pairs an embedded hub.Server with an embedded
// worker.Run over a Unix-socket h2c client instead of a shared bus value.
func runStandalone(args []string) error {
	fs := flag.NewFlagSet("coordhub", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "data directory (default: ./.coordhub-standalone)")
	adminAddr := fs.String("admin-addr", ":9327", "admin/metrics listen address")
	displayName := fs.String("display-name", "standalone", "coordinator display name")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	logging.PrintStartupInfo("standalone", version, *displayName)

	stateDir := *dataDir
	if stateDir == "" {
		stateDir = filepath.Join(".", ".coordhub-standalone")
	}

	b := localbus.New()
	openLocal := func(string) (bus.Bus, error) { return b, nil }

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := session.Create(ctx, b, *displayName, filepath.Join(stateDir, "coordinator"), 5*time.Minute)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	admin := newAdminServer(*adminAddr, sess)
	go func() {
		slog.Info("admin listener starting", "addr", *adminAddr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin listener stopped", "error", err)
		}
	}()

	spawned, err := sess.SpawnAgent(ctx, "worker-1", "default", "worker-1")
	if err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}

	logging.PrintInviteQRCode(spawned.InviteURL)

	result, err := bootstrap.Bootstrap(ctx, spawned.InviteURL, "", spawned.AgentID, openLocal)
	if err != nil {
		return fmt.Errorf("bootstrap embedded worker: %w", err)
	}
	h := workerkit.New(result.Context, result.AgentID)
	if err := h.MarkIdle(ctx, ""); err != nil {
		slog.Warn("standalone: worker failed to announce idle", "error", err)
	}

	go runWorkerLoop(ctx, h, 2*time.Minute)
	go sweepLoop(ctx, sess, 5*time.Minute)

	runCoordinationLoop(ctx, sess)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	return nil
}
