package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go-chat-sync/internal/engine"
	"go-chat-sync/internal/metrics"
)

func newSendCommand(opts *rootOptions) *cobra.Command {
	var (
		chatID  int64
		text    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:     "send",
		Short:   "Send one message and wait for the relay to echo it",
		Example: `  chatctl send --chat 12 --text "hello"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return send(ctx, opts, chatID, text)
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Chat to post in")
	cmd.Flags().StringVar(&text, "text", "", "Message content")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the echo")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func send(ctx context.Context, opts *rootOptions, chatID int64, text string) error {
	r, err := startRig(ctx, opts.cfg, opts.cfg.Token, metrics.New(nil))
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.engine.JoinChat(ctx, chatID); err != nil {
		return err
	}
	if err := r.engine.SendMessage(engine.Draft{ChatID: chatID, Content: text}); err != nil {
		return err
	}

	st, err := r.waitFor(ctx, func(st engine.State) bool {
		return echoed(st, chatID, r.ident.UserID, text) != 0
	})
	if err != nil {
		return fmt.Errorf("no echo for message in chat %d: %w", chatID, err)
	}
	fmt.Printf("sent message %d\n", echoed(st, chatID, r.ident.UserID, text))
	return nil
}

// echoed returns the id of the newest message in chatID by userID with the
// given content, or 0.
func echoed(st engine.State, chatID, userID int64, content string) int64 {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		m := st.Messages[i]
		if m.ChatID == chatID && m.CreatedBy == userID && m.Content == content {
			return m.ID
		}
	}
	return 0
}
