package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"go-chat-sync/internal/api"
	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/config"
	"go-chat-sync/internal/engine"
	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/metrics"
	"go-chat-sync/internal/transport"
)

// rig is one connected client: a transport session feeding an engine.
type rig struct {
	ident   auth.Identity
	session *transport.Session
	engine  *engine.Engine
	cancel  context.CancelFunc
}

func startRig(ctx context.Context, cfg *config.Client, token string, m *metrics.Metrics) (*rig, error) {
	if token == "" {
		return nil, errors.New("no token: set CHAT_TOKEN or pass --token")
	}
	ident, err := auth.ParseIdentity(token)
	if err != nil {
		return nil, err
	}

	r := &rig{ident: ident}
	r.session = transport.NewSession(transport.NewWSDialer(cfg.WSURL), transport.Options{
		Backoff: cfg.ReconnectDelay,
		Metrics: m,
		OnStatus: func(connected bool) {
			r.engine.SetConnected(connected)
		},
		OnOpen: func() []event.Envelope {
			return r.engine.Rejoins()
		},
	})
	r.engine = engine.New(r.session, api.New(cfg.APIURL).WithToken(token), engine.Options{
		UserID:         ident.UserID,
		TypingInterval: cfg.TypingInterval,
		Metrics:        m,
	})

	ctx, r.cancel = context.WithCancel(ctx)
	go func() {
		if err := r.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error("engine stopped", zap.Error(err))
		}
	}()
	r.session.Connect(ident)
	return r, nil
}

func (r *rig) Close() {
	r.session.Close()
	r.cancel()
	<-r.engine.Done()
}

// waitFor blocks until a published state satisfies ok.
func (r *rig) waitFor(ctx context.Context, ok func(engine.State) bool) (engine.State, error) {
	states, cancel := r.engine.Subscribe()
	defer cancel()
	for {
		select {
		case st := <-states:
			if ok(st) {
				return st, nil
			}
		case <-ctx.Done():
			return r.engine.Snapshot(), ctx.Err()
		}
	}
}
