// Command moderationworker runs the moderation job pipeline: it enqueues a
// job per outbox-observed event, applies the deterministic rule engine and
// the optional budget-gated LLM path, and signs any resulting label through
// the ordinary ingest pipeline so downstream consumers see it like any
// other event.
package main

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appconfig "github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/ingest"
	"github.com/kukuri-network/community-node/internal/moderation"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/store"
	"github.com/kukuri-network/community-node/pkg/config"
	"github.com/kukuri-network/community-node/pkg/logger"
	"github.com/kukuri-network/community-node/pkg/pgnotify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log_ := logger.New(logger.LoggingConfig{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		Output: cfg.Logging.Output, FilePrefix: "moderationworker",
	})

	dsn := cfg.Database.ConnectionString()
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		log_.WithError(err).Fatal("open database")
	}
	if err := sqlDB.Ping(); err != nil {
		log_.WithError(err).Fatal("ping database")
	}
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "postgres")

	node, err := loadIdentity(cfg.Identity)
	if err != nil {
		log_.WithError(err).Fatal("load node identity")
	}

	st := store.New(db)
	ob := outbox.New(db)

	bus, err := pgnotify.NewWithDB(sqlDB, dsn, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			log_.WithError(err).Warn("moderationworker: notify listener reconnecting")
		}
	})
	if err != nil {
		log_.WithError(err).Fatal("start notify bus")
	}
	defer bus.Close()

	wake, err := outbox.Wake(bus, cfg.Outbox.NotifyChannel)
	if err != nil {
		log_.WithError(err).Fatal("subscribe outbox notify channel")
	}

	watcher := appconfig.NewWatcher(sqlDB, appconfig.EveryNSeconds(5), log_.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Start(ctx)

	// Label events the worker signs travel back through the ordinary
	// gossip ingest path; consent/subscription/node-topic gates only
	// apply to WS-sourced events, so they are unused here.
	engine := ingest.New(st, nil, nil, nil, nil, func(ctx context.Context, maxSeq int64) error {
		return bus.Publish(ctx, cfg.Outbox.NotifyChannel, maxSeq)
	})
	ingester := gossipIngester{engine: engine}

	cfgFunc := func() appconfig.ModerationConfig { return watcher.Current().Moderation }
	relayCfgFunc := func() appconfig.RelayConfig { return watcher.Current().Relay }

	worker := moderation.New(st, node, ingester, nil, nil, cfgFunc, relayCfgFunc)

	log_.Info("moderationworker: starting")
	if err := moderation.Run(ctx, watcher, ob, worker, wake, log_.Logger); err != nil {
		log_.WithError(err).Fatal("moderationworker: stopped with error")
	}
}

type gossipIngester struct{ engine *ingest.Engine }

func (g gossipIngester) Ingest(ctx context.Context, raw []byte, source ingest.Source, ictx ingest.Context, relayCfg appconfig.RelayConfig) (ingest.Outcome, error) {
	return g.engine.Ingest(ctx, raw, ingest.SourceGossip, ictx, relayCfg)
}

func loadIdentity(cfg config.IdentityConfig) (*identity.Node, error) {
	if cfg.KeyHex != "" {
		return identity.FromHex(cfg.KeyHex)
	}
	if cfg.KeyPath != "" {
		return identity.FromFile(cfg.KeyPath)
	}
	return identity.Generate()
}
