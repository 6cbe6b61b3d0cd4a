package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-chat-sync/internal/engine"
	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/metrics"
)

func newListenCommand(opts *rootOptions) *cobra.Command {
	var chatID int64

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Join a chat and print every state change",
		Example: `  chatctl listen --chat 12
  CHAT_METRICS_ADDR=:9100 chatctl listen --chat 12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listen(cmd.Context(), opts, chatID)
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Chat to join")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func listen(ctx context.Context, opts *rootOptions, chatID int64) error {
	m := metrics.New(nil)
	if opts.cfg.MetricsAddr != "" {
		m = metrics.New(prometheus.DefaultRegisterer)
		srv := &http.Server{Addr: opts.cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	r, err := startRig(ctx, opts.cfg, opts.cfg.Token, m)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.engine.JoinChat(ctx, chatID); err != nil {
		return err
	}
	if err := r.engine.LoadChatHistory(ctx, chatID); err != nil {
		logger.Log.Warn("history load failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	if err := r.engine.RefreshNotifications(ctx); err != nil {
		logger.Log.Warn("notification refresh failed", zap.Error(err))
	}

	states, cancel := r.engine.Subscribe()
	defer cancel()
	var last engine.State
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			if rosterChanged(last, st) {
				if err := r.engine.RefreshPresence(ctx); err != nil {
					logger.Log.Debug("presence refresh failed", zap.Error(err))
				}
			}
			printDiff(last, st, chatID)
			last = st
		}
	}
}

// rosterChanged reports a new online_users_list, including same-size swaps.
func rosterChanged(prev, cur engine.State) bool {
	return cur.Roster != nil && !slices.Equal(cur.Roster, prev.Roster)
}

func printDiff(prev, cur engine.State, chatID int64) {
	if prev.Connected != cur.Connected {
		fmt.Printf("connected=%t\n", cur.Connected)
	}
	seen := make(map[int64]string, len(prev.Messages))
	for _, m := range prev.Messages {
		seen[m.ID] = m.Content
	}
	for _, m := range cur.Messages {
		if m.ChatID != chatID {
			continue
		}
		old, ok := seen[m.ID]
		switch {
		case !ok:
			fmt.Printf("[%d] user %d: %s\n", m.ID, m.CreatedBy, m.Content)
		case old != m.Content:
			fmt.Printf("[%d] edited: %s\n", m.ID, m.Content)
		}
	}
	if len(cur.Messages) < len(prev.Messages) {
		fmt.Printf("%d message(s) deleted\n", len(prev.Messages)-len(cur.Messages))
	}
	if t := cur.TypingIn(chatID); !slices.Equal(t, prev.TypingIn(chatID)) {
		fmt.Printf("typing: %v\n", t)
	}
	if !slices.Equal(cur.Online, prev.Online) {
		fmt.Printf("online: %v\n", cur.Online)
	}
	if !slices.EqualFunc(cur.OnlineProfiles, prev.OnlineProfiles, func(a, b event.User) bool { return a.ID == b.ID }) {
		for _, u := range cur.OnlineProfiles {
			fmt.Printf("  %d %s\n", u.ID, u.Username)
		}
	}
	for _, n := range cur.Notifications[min(len(prev.Notifications), len(cur.Notifications)):] {
		fmt.Printf("notification %s: %s\n", n.Type, n.Title)
	}
	for _, inv := range cur.Invites[min(len(prev.Invites), len(cur.Invites)):] {
		fmt.Printf("%s from user %d (chat %d)\n", inv.Kind, inv.CreatedBy, inv.ChatID)
	}
}
