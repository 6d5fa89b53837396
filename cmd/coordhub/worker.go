package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/leapmux/leapmux/internal/config"
	"github.com/leapmux/leapmux/internal/coordination/bootstrap"
	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/coordination/workerkit"
	"github.com/leapmux/leapmux/internal/historystore/migrate"
	"github.com/leapmux/leapmux/internal/logging"
)

func runWorker(args []string) error {
	configPath, rest := extractConfigFlag(args)

	cfg, err := config.LoadWorkerConfig(rest, configPath)
	if err != nil {
		return err
	}

	logging.PrintStartupInfo("worker", version, cfg.AgentID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A standalone worker process has no other process's in-memory bus
	// to share, so local:// invites can only be claimed by an embedding
	// process (the all-in-one standalone binary supplies its own opener).
	result, err := bootstrap.Bootstrap(ctx, cfg.InviteURL, cfg.ServerURL, cfg.AgentID, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	sessionDir := filepath.Join(cfg.DataDir, result.AgentID)
	loaded, err := migrate.LoadOrMigrate(sessionDir)
	if err != nil {
		slog.Warn("worker: no prior session history, starting fresh", "dir", sessionDir, "error", err)
	} else {
		slog.Info("worker: resumed session history", "dir", sessionDir, "messages", len(loaded.History))
	}

	h := workerkit.New(result.Context, result.AgentID)

	if err := h.MarkIdle(ctx, ""); err != nil {
		slog.Warn("worker: failed to announce idle", "error", err)
	}

	runWorkerLoop(ctx, h, cfg.PermissionTimeout)
	return nil
}

// runWorkerLoop blocks the worker on its own inbox, acknowledging and
// completing every task_assign it receives. This reference binary has
// no real tool execution to perform, so task handling is a stub that
// exercises the full ack/permission/result lifecycle (§4.6) without
// doing anything destructive.
func runWorkerLoop(ctx context.Context, h *workerkit.Handle, permTimeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := h.Context.WaitForMessages(ctx, 10*time.Second, false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("worker: receive failed", "error", err)
			continue
		}
		for _, rm := range msgs {
			assign, ok := rm.Message.(*protocol.TaskAssign)
			if !ok {
				continue
			}
			handleTask(ctx, h, assign, permTimeout)
		}
	}
}

func handleTask(ctx context.Context, h *workerkit.Handle, assign *protocol.TaskAssign, permTimeout time.Duration) {
	slog.Info("worker: task assigned", "task_id", assign.TaskID, "description", assign.Description)
	if err := h.Ack(ctx, assign.TaskID); err != nil {
		slog.Error("worker: ack failed", "task_id", assign.TaskID, "error", err)
		return
	}

	decision, err := h.RequestPermission(ctx, assign.TaskID, "execute", assign.Description, nil, permTimeout)
	if err != nil {
		slog.Error("worker: permission request failed", "task_id", assign.TaskID, "error", err)
		_ = h.Result(ctx, assign.TaskID, protocol.StatusFailed, nil, "", err.Error())
		return
	}
	if !workerkit.MapDecision(decision) {
		_ = h.Result(ctx, assign.TaskID, protocol.StatusBlocked, nil, "", "permission denied: "+string(decision))
		_ = h.MarkIdle(ctx, assign.TaskID)
		return
	}

	_ = h.Progress(ctx, assign.TaskID, "working", nil)
	_ = h.Result(ctx, assign.TaskID, protocol.StatusComplete, nil, "done", "")
	_ = h.MarkIdle(ctx, assign.TaskID)
}
