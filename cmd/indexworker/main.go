// Command indexworker runs the index worker: it consumes the event outbox,
// runs reindex jobs, and sweeps expired events from the search sink. The
// search sink itself is an external collaborator (spec ports.SearchSink);
// this binary only logs what it would index when none is configured.
package main

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/kukuri-network/community-node/infrastructure/cache"
	appconfig "github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/index"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/ports"
	"github.com/kukuri-network/community-node/internal/store"
	"github.com/kukuri-network/community-node/pkg/config"
	"github.com/kukuri-network/community-node/pkg/logger"
	"github.com/kukuri-network/community-node/pkg/pgnotify"
)

// loggingSink satisfies ports.SearchSink by logging document mutations. A
// deployment wires a real search engine (e.g. Meilisearch) behind this same
// interface; the core never imports that client directly.
type loggingSink struct{ log *logrus.Logger }

func (s loggingSink) EnsureIndex(ctx context.Context, uid, pkName string, settings *ports.IndexSettings) error {
	s.log.WithField("index", uid).Debug("indexworker: ensure index")
	return nil
}

func (s loggingSink) UpsertDocuments(ctx context.Context, uid string, docs []ports.SearchDocument) error {
	s.log.WithField("index", uid).WithField("count", len(docs)).Info("indexworker: upsert documents")
	return nil
}

func (s loggingSink) DeleteDocument(ctx context.Context, uid, id string) error {
	s.log.WithField("index", uid).WithField("id", id).Info("indexworker: delete document")
	return nil
}

func (s loggingSink) DeleteDocuments(ctx context.Context, uid string, ids []string) error {
	s.log.WithField("index", uid).WithField("count", len(ids)).Info("indexworker: delete documents")
	return nil
}

func (s loggingSink) DeleteAllDocuments(ctx context.Context, uid string) error {
	s.log.WithField("index", uid).Info("indexworker: delete all documents")
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log_ := logger.New(logger.LoggingConfig{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		Output: cfg.Logging.Output, FilePrefix: "indexworker",
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

	st := store.New(db)
	ob := outbox.New(db)

	bus, err := pgnotify.NewWithDB(sqlDB, dsn, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			log_.WithError(err).Warn("indexworker: notify listener reconnecting")
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

	topics := cache.NewNodeTopicSet(cache.TopicListerFunc(func() ([]string, error) {
		return st.ListEnabledTopics(ctx)
	}))
	if err := topics.Refresh(); err != nil {
		log_.WithError(err).Warn("indexworker: initial node-topics load failed, starting empty")
	}
	stopTopics := make(chan struct{})
	go topics.RunRefresh(appconfig.EveryNSeconds(30), stopTopics, func(err error) {
		log_.WithError(err).Warn("indexworker: node-topics refresh failed")
	})
	defer close(stopTopics)

	sink := loggingSink{log: log_.Logger}
	worker := index.New(st, sink)
	reindexer := index.NewReindexer(st, sink, index.ConsumerName, topics)
	sweeper := index.NewExpirationSweeper(st, sink)

	log_.Info("indexworker: starting")
	if err := index.Run(ctx, watcher, ob, worker, reindexer, sweeper, wake, log_.Logger); err != nil {
		log_.WithError(err).Fatal("indexworker: stopped with error")
	}
}
