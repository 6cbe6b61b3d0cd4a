package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-chat-sync/internal/api"
	"go-chat-sync/internal/engine"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/metrics"
)

const loadChatBase = 1_000_000

type loadOptions struct {
	pairs    int
	messages int
	gap      time.Duration
	settle   time.Duration
	password string
}

type loadResult struct {
	users    atomic.Int64
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func newLoadCommand(opts *rootOptions) *cobra.Command {
	lo := loadOptions{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Stress a relay with pairs of users messaging each other",
		Example: `  chatctl load --pairs 50 --messages 20
  chatctl load --pairs 500 --gap 5ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoad(cmd.Context(), opts, lo)
		},
	}
	cmd.Flags().IntVar(&lo.pairs, "pairs", 50, "Number of user pairs; each pair shares one chat")
	cmd.Flags().IntVar(&lo.messages, "messages", 20, "Messages sent by each user")
	cmd.Flags().DurationVar(&lo.gap, "gap", 10*time.Millisecond, "Pause between sends")
	cmd.Flags().DurationVar(&lo.settle, "settle", 15*time.Second, "How long to wait for every echo")
	cmd.Flags().StringVar(&lo.password, "password", "password123", "Password for the generated users")
	return cmd
}

func runLoad(ctx context.Context, opts *rootOptions, lo loadOptions) error {
	fmt.Printf("starting load: %d users, %d messages each\n", lo.pairs*2, lo.messages)
	start := time.Now()

	rest := api.New(opts.cfg.APIURL)
	m := metrics.New(nil)
	res := &loadResult{}

	var g errgroup.Group
	for i := 0; i < lo.pairs; i++ {
		chatID := int64(loadChatBase + i)
		joined := &sync.WaitGroup{}
		joined.Add(2)
		for _, side := range []string{"a", "b"} {
			name := fmt.Sprintf("u_%d_%s", i, side)
			g.Go(func() error {
				if err := loadUser(ctx, opts, lo, rest, m, res, name, chatID, joined); err != nil {
					res.failed.Add(1)
					logger.Log.Warn("load user failed", zap.String("user", name), zap.Error(err))
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	want := int64(lo.messages) * res.users.Load() * 2
	fmt.Printf("done in %s: users=%d failed=%d sent=%d received=%d/%d\n",
		time.Since(start).Round(time.Millisecond),
		res.users.Load(), res.failed.Load(), res.sent.Load(), res.received.Load(), want)
	return nil
}

// loadUser registers (ignoring conflicts), logs in and joins the pair's chat.
// Once the partner has joined too it sends, then waits for both sides' traffic.
func loadUser(ctx context.Context, opts *rootOptions, lo loadOptions, rest *api.Client, m *metrics.Metrics, res *loadResult, name string, chatID int64, joined *sync.WaitGroup) error {
	var once sync.Once
	defer once.Do(joined.Done)

	cred := api.Credentials{Username: name, Password: lo.password}
	_ = rest.Register(ctx, cred)
	login, err := rest.Login(ctx, cred)
	if err != nil {
		return err
	}

	r, err := startRig(ctx, opts.cfg, login.AccessToken, m)
	if err != nil {
		return err
	}
	defer r.Close()
	res.users.Add(1)

	if err := r.engine.JoinChat(ctx, chatID); err != nil {
		return err
	}
	once.Do(joined.Done)
	joined.Wait()

	for i := 0; i < lo.messages; i++ {
		if err := r.engine.SendMessage(engine.Draft{ChatID: chatID, Content: fmt.Sprintf("load msg %d from %s", i, name)}); err != nil {
			return err
		}
		res.sent.Add(1)
		select {
		case <-time.After(lo.gap):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	wctx, cancel := context.WithTimeout(ctx, lo.settle)
	defer cancel()
	st, err := r.waitFor(wctx, func(st engine.State) bool {
		return countIn(st, chatID) >= 2*lo.messages
	})
	res.received.Add(int64(countIn(st, chatID)))
	return err
}

func countIn(st engine.State, chatID int64) int {
	n := 0
	for _, m := range st.Messages {
		if m.ChatID == chatID {
			n++
		}
	}
	return n
}
