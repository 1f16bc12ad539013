// Package main wires C1-C9 into one process. Grounded on kagent's
// cmd/controller/main.go (build every component, wire callbacks, start,
// wait for signal, shut down in reverse) adapted from a controller-runtime
// manager to this fabric's own component set — there is no Kubernetes
// manager here, so app assembles and owns the lifecycle itself.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/auth"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/coordbus"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/directory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/embeddings"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/memory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/metrics"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/sync"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/tools"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/transport"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/vectorindex"
)

const version = "0.1.0"

// app holds every wired component a subcommand might need, plus whatever it
// started (cron schedules, HTTP listeners) for coordinated shutdown.
type app struct {
	cfg   *config.Config
	log   logr.Logger
	start time.Time

	storageMgr *storage.Manager
	db         *storage.Store
	mem        *memory.Store
	dir        *directory.Directory
	bus        *coordbus.Bus
	rulesDB    *rules.Store
	ruleEngine *rules.Engine
	node       *sync.Node
	dispatcher *tools.Dispatcher
	server     *transport.Server
	natsConn   *nats.Conn
	authn      auth.Authenticator
}

// build assembles every C1-C9 component from cfg without starting any
// background schedule or listener — callers decide what to run.
func build(cfg *config.Config, log logr.Logger) (*app, error) {
	storageMgr, err := storage.Open(&cfg.Storage)
	if err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "open storage", err)
	}
	if err := storageMgr.Initialize(); err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "initialize storage", err)
	}
	db := storage.NewStore(storageMgr)

	index, err := buildVectorIndex(storageMgr)
	if err != nil {
		return nil, err
	}

	embedProvider, err := buildEmbeddingProvider(cfg.Vector.Dimension, log)
	if err != nil {
		return nil, err
	}

	mem := memory.NewStore(db, index, embedProvider, &cfg.Memory, log)

	dir := directory.New(cfg.Directory.AgentTTL, log)

	var nc *nats.Conn
	if cfg.Coord.NATSURL != "" {
		nc, err = nats.Connect(cfg.Coord.NATSURL)
		if err != nil {
			return nil, model.NewFault(model.FaultPeerUnreachable, "connect nats", err)
		}
	}
	backoff := coordbus.BackoffConfig{
		MaxAttempts: cfg.Coord.BroadcastRetry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Coord.BroadcastRetry.BackoffBaseMs) * time.Millisecond,
		CapDelay:    time.Duration(cfg.Coord.BroadcastRetry.BackoffCapS) * time.Second,
	}
	bus := coordbus.New(dir, nc, backoff, cfg.Coord.InboxCap, log)

	rulesConn, err := gormConnFor(storageMgr)
	if err != nil {
		return nil, err
	}
	rulesDB, err := rules.NewStore(rulesConn)
	if err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "open rules store", err)
	}

	var semantic rules.SemanticMatcher
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		classifier, cerr := embeddings.NewSemanticClassifier("", log)
		if cerr != nil {
			log.V(1).Info("semantic classifier unavailable", "error", cerr)
		} else {
			semantic = classifier
		}
	}
	ruleEngine := rules.NewEngine(rulesDB, semantic, cfg.Rules.EffectiveClockSkewS, log)

	var node *sync.Node
	if len(cfg.Sync.Peers) > 0 {
		node = sync.New(cfg.MachineID, &cfg.Sync, db, mem, rulesDB, log)
	}

	dispatcher := tools.New(mem, dir, bus, ruleEngine, node, cfg.MachineID, log)

	server := transport.New("hivemind", version, &cfg.Transport, func(s *mcpsdk.Server) {
		tools.Register(s, dispatcher)
	}, log)

	var authn auth.Authenticator
	if tokens := bearerTokensFromEnv(); len(tokens) > 0 {
		authn = auth.NewBearerTokenAuthenticator(tokens)
	}

	return &app{
		cfg: cfg, log: log, start: time.Now().UTC(),
		storageMgr: storageMgr, db: db, mem: mem, dir: dir, bus: bus,
		rulesDB: rulesDB, ruleEngine: ruleEngine, node: node,
		dispatcher: dispatcher, server: server, natsConn: nc, authn: authn,
	}, nil
}

func buildVectorIndex(storageMgr *storage.Manager) (vectorindex.Index, error) {
	if storageMgr.Dialect() == storage.DialectPostgres {
		conn, err := gormConnFor(storageMgr)
		if err != nil {
			return nil, err
		}
		idx, err := vectorindex.NewPostgresIndex(conn)
		if err != nil {
			return nil, model.NewFault(model.FaultStorageUnavailable, "open postgres vector index", err)
		}
		return idx, nil
	}
	return vectorindex.NewMemoryIndex(), nil
}

func gormConnFor(m *storage.Manager) (*gorm.DB, error) {
	if db := m.DB(); db != nil {
		return db, nil
	}
	return gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
}

func buildEmbeddingProvider(dimension int, log logr.Logger) (embeddings.Provider, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		log.Info("OPENAI_API_KEY not set, using deterministic hash embeddings")
		return embeddings.NewHashProvider(dimension), nil
	}
	return embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{Model: "text-embedding-3-small"}, dimension, log)
}

func bearerTokensFromEnv() map[string]auth.Principal {
	raw := os.Getenv("HIVEMIND_BEARER_TOKEN")
	if raw == "" {
		return nil
	}
	return map[string]auth.Principal{
		raw: {AgentID: "env-token", Scopes: []string{"read", "write"}},
	}
}

// healthSource adapts the live components to metrics.HealthSource.
type healthSource struct {
	a *app
}

func (h healthSource) AgentCount() int64 {
	agents, err := h.a.dir.List(context.Background(), directory.Filter{})
	if err != nil {
		return 0
	}
	return int64(len(agents))
}

func (h healthSource) MemoryCount() int64 {
	stats, err := h.a.mem.Stats(context.Background())
	if err != nil {
		return 0
	}
	return stats.Total
}

func (h healthSource) SyncLagSeconds() float64 {
	// Lag is tracked in records (metrics.SetSyncLag), not wall-clock time;
	// this node has no single "the" peer to report a scalar lag against.
	return 0
}

func (a *app) adminMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler(a.start, healthSource{a: a}))
	return mux
}

func (a *app) close() {
	if a.server != nil {
		_ = a.server.Shutdown(context.Background())
	}
	if a.dir != nil {
		a.dir.Stop()
	}
	if a.node != nil {
		a.node.Stop()
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.storageMgr != nil {
		_ = a.storageMgr.Close()
	}
}
