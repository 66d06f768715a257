// Command relay runs the WebSocket event-ingest front door: it accepts
// connections, decodes NIP-01 EVENT frames, and runs them through the
// ingest pipeline. Indexing, moderation, and trust scoring run as
// separate processes consuming the same outbox.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kukuri-network/community-node/infrastructure/cache"
	appconfig "github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/health"
	"github.com/kukuri-network/community-node/internal/identity"
	"github.com/kukuri-network/community-node/internal/ingest"
	"github.com/kukuri-network/community-node/internal/ingest/wsintake"
	"github.com/kukuri-network/community-node/internal/outbox"
	"github.com/kukuri-network/community-node/internal/ratelimiter"
	"github.com/kukuri-network/community-node/internal/store"
	"github.com/kukuri-network/community-node/pkg/config"
	"github.com/kukuri-network/community-node/pkg/logger"
	"github.com/kukuri-network/community-node/pkg/pgnotify"
	"github.com/kukuri-network/community-node/system/framework/lifecycle"
)

// allowAllConsent and allowAllSubs stand in for the end-user consent and
// subscription checks a deployment layers on top of this core; spec scope
// ends at the ConsentChecker/SubscriptionChecker seam.
type allowAllConsent struct{}

func (allowAllConsent) HasCurrentConsent(ctx context.Context, pubkey string) (bool, error) {
	return true, nil
}

type allowAllSubs struct{}

func (allowAllSubs) HasActiveSubscription(ctx context.Context, pubkey, topicID string) (bool, error) {
	return true, nil
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log_ := logger.New(logger.LoggingConfig{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		Output: cfg.Logging.Output, FilePrefix: cfg.Logging.FilePrefix,
	})

	dsn := cfg.Database.ConnectionString()
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		log_.WithError(err).Fatal("open database")
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
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
	log_.WithField("pubkey", node.Pubkey()).Info("relay: node identity loaded")

	st := store.New(db)
	ob := outbox.New(db)

	bus, err := pgnotify.NewWithDB(sqlDB, dsn, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			log_.WithError(err).Warn("relay: outbox notify listener reconnecting")
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
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Start(rootCtx)

	topics := cache.NewNodeTopicSet(cache.TopicListerFunc(func() ([]string, error) {
		return st.ListEnabledTopics(rootCtx)
	}))
	if err := topics.Refresh(); err != nil {
		log_.WithError(err).Warn("relay: initial node-topics load failed, starting empty")
	}
	stopTopics := make(chan struct{})
	go topics.RunRefresh(appconfig.EveryNSeconds(30), stopTopics, func(err error) {
		log_.WithError(err).Warn("relay: node-topics refresh failed")
	})

	limiter := ratelimiter.PortAdapter{Limiter: ratelimiter.New()}

	engine := ingest.New(st, limiter, allowAllConsent{}, allowAllSubs{}, topics,
		func(ctx context.Context, maxSeq int64) error {
			return bus.Publish(ctx, cfg.Outbox.NotifyChannel, maxSeq)
		})

	relayCfgFunc := func() appconfig.RelayConfig { return watcher.Current().Relay }

	checker := health.NewChecker()
	checker.Register("database", func(ctx context.Context) error { return sqlDB.PingContext(ctx) })

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := checker.Status(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status != health.StatusOK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	gs := lifecycle.NewGracefulShutdown()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		guard := lifecycle.NewOperationGuard(gs)
		if guard == nil {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer guard.Close()

		conn, err := wsintake.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log_.WithError(err).Warn("relay: websocket upgrade failed")
			return
		}
		peerID := r.RemoteAddr
		authPubkey := r.Header.Get("X-Node-Auth-Pubkey")
		if err := wsintake.Serve(rootCtx, conn, engine, peerID, authPubkey, relayCfgFunc, log_.Logger); err != nil {
			log_.WithError(err).Debug("relay: websocket session ended")
		}
	})

	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log_.WithField("addr", *addr).Info("relay: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log_.WithError(err).Fatal("relay: http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log_.Info("relay: shutting down")

	gs.Shutdown()
	close(stopTopics)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log_.WithError(err).Warn("relay: http shutdown error")
	}
	if err := gs.Wait(shutdownCtx); err != nil {
		log_.WithError(err).Warn("relay: in-flight websocket sessions did not drain in time")
	}
	cancel()
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
