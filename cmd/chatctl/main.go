package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-chat-sync/internal/config"
	"go-chat-sync/internal/logger"
)

// rootOptions is filled by the root command before any subcommand runs.
type rootOptions struct {
	level string
	token string
	cfg   *config.Client
}

func NewChatctlCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Realtime chat client: listen, send and load-test against a relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			if opts.level != "" {
				cfg.LogLevel = opts.level
			}
			if opts.token != "" {
				cfg.Token = opts.token
			}
			opts.cfg = cfg
			return logger.Init(cfg.LogLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.level, "log-level", "", "Override CHAT_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "Override CHAT_TOKEN")

	cmd.AddCommand(
		newListenCommand(opts),
		newSendCommand(opts),
		newLoadCommand(opts),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewChatctlCommand().ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatctl:", err)
		os.Exit(1)
	}
}
