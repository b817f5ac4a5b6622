package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/auth"
	"github.com/omochice/socket-feed/internal/chat"
	"github.com/omochice/socket-feed/internal/config"
	"github.com/omochice/socket-feed/internal/fanout"
	"github.com/omochice/socket-feed/internal/fanout/natsbus"
	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/internal/presence"
	"github.com/omochice/socket-feed/internal/readside"
	"github.com/omochice/socket-feed/internal/server"
	mongostore "github.com/omochice/socket-feed/internal/store/mongo"
)

type gateway struct {
	server    *server.Server
	publisher *fanout.Publisher
	closers   []func(context.Context) error
}

// Close releases backends in reverse order of acquisition.
func (g *gateway) Close(ctx context.Context) {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](ctx); err != nil {
			logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
}

func wireGateway(ctx context.Context, cfg config.Config) (_ *gateway, err error) {
	g := &gateway{}
	defer func() {
		if err != nil {
			g.Close(context.Background())
		}
	}()

	verifier, err := auth.NewVerifier(auth.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg})
	if err != nil {
		return nil, fmt.Errorf("wire auth: %w", err)
	}

	hub := chat.NewHub()

	var bus fanout.Bus = fanout.LocalBus{Hub: hub}
	if cfg.Bus.Backend == config.BackendNATS {
		nb, err := natsbus.Connect(natsbus.Config{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject, Name: cfg.NATS.Name}, hub)
		if err != nil {
			return nil, fmt.Errorf("wire nats bus: %w", err)
		}
		g.closers = append(g.closers, func(context.Context) error { return nb.Close() })
		if err := nb.Start(); err != nil {
			return nil, fmt.Errorf("start nats bus: %w", err)
		}
		bus = nb
	}

	var notifications fanout.NotificationStore = fanout.NewMemoryNotificationStore()
	if cfg.Notifications.Backend == config.BackendMongo {
		store, disconnect, err := mongostore.Connect(ctx, mongostore.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return nil, fmt.Errorf("wire mongo notifications: %w", err)
		}
		g.closers = append(g.closers, disconnect)
		notifications = store
	}

	echo := fanout.EchoDeliver
	if cfg.Gateway.ExcludeSenderEcho {
		echo = fanout.EchoExcludeSender
	}
	g.publisher = fanout.NewPublisher(bus, notifications, fanout.WithEchoMode(echo))

	var store presence.Store = presence.NewMemoryStore()
	if cfg.Presence.Backend == config.BackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		g.closers = append(g.closers, func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("wire redis presence: %w", err)
		}
		store = presence.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	}
	registry := presence.NewRegistry(store, presence.WithTransition(g.publisher.PresenceChanged))

	opts := server.Options{
		Addr:            cfg.Server.Addr,
		WSPath:          cfg.Server.WSPath,
		SendQueue:       cfg.Gateway.SendQueue,
		PingInterval:    cfg.Gateway.PingInterval,
		WriteWait:       cfg.Gateway.WriteWait,
		PongWait:        cfg.Gateway.PongWait,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
		IngressToken:    cfg.Ingress.Token,
	}
	if cfg.Gateway.VerifyConversations {
		opts.Authorizer = readside.NewConversationAuthorizer(cfg.ReadSide.URL, cfg.ReadSide.Token, nil)
	}
	g.server = server.New(opts, hub, registry, verifier, g.publisher)

	logger.Info("gateway wired",
		zap.String("presence", cfg.Presence.Backend),
		zap.String("bus", cfg.Bus.Backend),
		zap.String("notifications", cfg.Notifications.Backend),
		zap.Bool("verify_conversations", cfg.Gateway.VerifyConversations),
		zap.Bool("ingress", cfg.Ingress.Token != ""))
	return g, nil
}

func issueToken(cfg config.Config, userID string) (string, error) {
	verifier, err := auth.NewVerifier(auth.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg})
	if err != nil {
		return "", err
	}
	return verifier.Issue(userID)
}
