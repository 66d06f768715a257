// Command trustengine runs the trust engine: it classifies outbox events
// into report/label and interaction evidence, recomputes report-based and
// communication-density scores, and issues signed attestation events on a
// schedule and inline as evidence arrives.
package main

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appconfig "github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/store"
	"github.com/kukuri-network/community-node/internal/trust"
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
		Output: cfg.Logging.Output, FilePrefix: "trustengine",
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
			log_.WithError(err).Warn("trustengine: notify listener reconnecting")
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

	cfgFunc := func() appconfig.TrustConfig { return watcher.Current().Trust }
	worker := trust.New(st, node, cfgFunc)

	log_.Info("trustengine: starting")
	if err := trust.Run(ctx, watcher, ob, worker, wake, log_.Logger); err != nil {
		log_.WithError(err).Fatal("trustengine: stopped with error")
	}
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
