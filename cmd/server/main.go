package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"

	"github.com/nexuschat/backend/internal/auth"
	"github.com/nexuschat/backend/internal/broadcast"
	"github.com/nexuschat/backend/internal/media"
	"github.com/nexuschat/backend/internal/server"
	"github.com/nexuschat/backend/internal/storage"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	srvCfg := server.EnvConfig{}
	if err := env.Parse(&srvCfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	storeCfg := storage.Config{}
	if err := env.Parse(&storeCfg); err != nil {
		sugar.Fatalf("Cannot parse storage env config: %v", err)
	}

	store, err := storage.New(context.Background(), sugar, storeCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	mediaStore, err := media.NewStore(srvCfg.MediaDir, srvCfg.MediaBaseURL)
	if err != nil {
		sugar.Fatalf("Cannot create media store: %v", err)
	}

	hub := broadcast.NewHub(sugar, channelAuthorizer(store))

	deps := server.Deps{
		Store:  store,
		Hub:    hub,
		Tokens: auth.NewTokens(srvCfg.JWTSecret, srvCfg.TokenTTL),
		Mailer: server.LogMailer{Logger: sugar},
		Google: server.NewGoogleVerifier(nil),
		Media:  mediaStore,
	}

	serverOpts := []server.Option{
		server.WithEnvConfig(srvCfg),
		server.ReadTimeout(5 * time.Second),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			store.Close()
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.New(sugar, deps, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}

// channelAuthorizer wires broadcast subscriptions to current membership. The
// predicate runs on every subscribe attempt, so a removed member loses the
// ability to attach immediately.
func channelAuthorizer(store *storage.Store) broadcast.AuthorizeFunc {
	return func(ctx context.Context, userID int64, channel string) bool {
		kind, id, err := broadcast.ParseChannel(channel)
		if err != nil {
			return false
		}

		var member bool
		switch kind {
		case "room":
			member, err = store.IsRoomMember(ctx, id, userID)
		case "group":
			member, err = store.IsGroupMember(ctx, id, userID)
		}
		return err == nil && member
	}
}
