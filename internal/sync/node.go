package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/memory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/metrics"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/storage"
)

// Node is the C7 service running on one machine: it serves peers' sync
// requests and, on its own schedule, initiates rounds against them.
type Node struct {
	machineID string
	cfg       *config.Sync
	db        *storage.Store
	mem       *memory.Store
	rulesDB   *rules.Store
	clock     *Clock
	client    *http.Client
	log       logr.Logger

	mu            sync.Mutex
	lastRoundWith map[string]time.Time

	cron *cron.Cron
}

// New builds a Node. addr is this node's own listen address, used only for
// logging context (the caller wires the HTTP handler separately via
// Handler()).
func New(machineID string, cfg *config.Sync, db *storage.Store, mem *memory.Store, rulesDB *rules.Store, log logr.Logger) *Node {
	return &Node{
		machineID:     machineID,
		cfg:           cfg,
		db:            db,
		mem:           mem,
		rulesDB:       rulesDB,
		clock:         NewClock(),
		client:        &http.Client{Timeout: cfgOrDefault(cfg)},
		log:           log,
		lastRoundWith: make(map[string]time.Time),
	}
}

func cfgOrDefault(cfg *config.Sync) time.Duration {
	if cfg != nil && cfg.PeerTimeoutS > 0 {
		return cfg.PeerTimeoutS
	}
	return 10 * time.Second
}

// Handler returns the http.Handler a caller mounts at the node's sync
// endpoint (e.g. POST /sync/round), implementing the responder side of
// spec.md §4.7's SyncHello/SyncBatch exchange.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/hello", n.handleHello)
	mux.HandleFunc("/sync/ack", n.handleAck)
	return mux
}

func (n *Node) handleHello(w http.ResponseWriter, r *http.Request) {
	var req HelloRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := n.buildBatch(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *Node) handleAck(w http.ResponseWriter, r *http.Request) {
	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// The responder doesn't need the initiator's clock for correctness
	// (idempotent re-send on ack loss, per spec.md §4.7 step 5), but
	// folding it in lets this node skip already-seen entries sooner on a
	// future round where roles reverse.
	n.clock.Merge(req.Clock)
	w.WriteHeader(http.StatusNoContent)
}

// buildBatch implements the responder side of steps 3-4: every log entry
// newer than req's clock for an origin the requester may see, scope-
// filtered, capped at max_records_per_round.
func (n *Node) buildBatch(ctx context.Context, req HelloRequest) (BatchResponse, error) {
	limit := n.cfg.MaxRecordsPerRound
	if limit <= 0 {
		limit = 500
	}

	records, err := n.db.LogSince(ctx, req.Clock, 0) // filter scope before truncating
	if err != nil {
		return BatchResponse{}, err
	}

	var filtered []WireRecord
	for _, item := range records {
		if !scopeApplies(item, req.FromMachine, req.ProjectTag) {
			continue
		}
		filtered = append(filtered, toWireRecord(item))
		if len(filtered) >= limit {
			break
		}
	}

	ruleRows, err := n.rulesDB.AllSince(ctx, req.Clock, limit)
	if err != nil {
		return BatchResponse{}, err
	}

	return BatchResponse{
		Records:   filtered,
		Rules:     ruleRows,
		PeerClock: n.clock.Snapshot(),
		// FullResync: this responder's record history lives entirely in the
		// live-row log (superseded versions are overwritten in place, not
		// retained as separate entries), so LogSince above already returns
		// everything the requester is missing — there is no separate
		// snapshot path to fall back to. Kept as a field so a future
		// retained-history store can populate it without a wire change.
		FullResync: false,
	}, nil
}

// StartSchedule runs sync rounds on a cron-ish jittered interval against
// one peer per tick, biased toward the peer this node has gone longest
// without contacting (spec.md §4.7 step 1).
func (n *Node) StartSchedule(peers []string) error {
	n.cron = cron.New()
	interval := n.cfg.IntervalS
	if interval <= 0 {
		interval = 30 * time.Second
	}
	spec := fmt.Sprintf("@every %s", interval)
	_, err := n.cron.AddFunc(spec, func() {
		jitter := time.Duration(rand.Int63n(int64(interval) / 4))
		time.Sleep(jitter)
		peer, ok := n.pickPeer(peers)
		if !ok {
			return
		}
		if err := n.Round(context.Background(), peer); err != nil {
			n.log.V(1).Info("sync round failed", "peer", peer, "error", err)
		}
	})
	if err != nil {
		return err
	}
	n.cron.Start()
	return nil
}

func (n *Node) Stop() {
	if n.cron != nil {
		n.cron.Stop()
	}
}

// pickPeer chooses the peer with the oldest last_heartbeat_from_self
// (round-robin biased toward staleness, per spec.md §4.7 step 1).
func (n *Node) pickPeer(peers []string) (string, bool) {
	if len(peers) == 0 {
		return "", false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	sort.Slice(peers, func(i, j int) bool {
		return n.lastRoundWith[peers[i]].Before(n.lastRoundWith[peers[j]])
	})
	return peers[0], true
}

// Round runs one initiator-side sync exchange against peerAddr, per
// spec.md §4.7 steps 2-5.
func (n *Node) Round(ctx context.Context, peerAddr string) error {
	n.mu.Lock()
	n.lastRoundWith[peerAddr] = time.Now().UTC()
	n.mu.Unlock()

	projectTag := ""
	if n.cfg != nil {
		projectTag = n.cfg.ProjectTag
	}
	hello := HelloRequest{FromMachine: n.machineID, ProjectTag: projectTag, Clock: n.clock.Snapshot()}
	body, err := json.Marshal(hello)
	if err != nil {
		return err
	}

	resp, err := n.post(ctx, peerAddr+"/sync/hello", body)
	if err != nil {
		return model.NewFault(model.FaultPeerUnreachable, peerAddr, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var batch BatchResponse
	if err := json.Unmarshal(data, &batch); err != nil {
		return err
	}
	metrics.SetSyncLag(peerAddr, Lag(n.clock, batch.PeerClock))

	for _, wr := range batch.Records {
		item := fromWireRecord(wr)
		if err := n.mem.ApplyReplicated(ctx, item); err != nil {
			n.log.V(1).Info("apply replicated record failed", "id", item.ID, "error", err)
			continue
		}
		n.clock.Advance(item.OriginMachine, item.Version)
	}
	for _, r := range batch.Rules {
		if err := n.rulesDB.ApplyReplicated(ctx, r); err != nil {
			n.log.V(1).Info("apply replicated rule failed", "rule_id", r.RuleID, "error", err)
			continue
		}
	}

	ack := AckRequest{FromMachine: n.machineID, Clock: n.clock.Snapshot()}
	ackBody, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	ackResp, err := n.post(ctx, peerAddr+"/sync/ack", ackBody)
	if err != nil {
		// spec.md §4.7 step 5: a lost ack just means the same records are
		// resent next round; idempotence makes that safe.
		return nil
	}
	defer ackResp.Body.Close()
	return nil
}

func (n *Node) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.client.Do(req)
}

// ClockSnapshot returns this node's current vector clock, used by the
// sync_status tool (spec.md §4.9).
func (n *Node) ClockSnapshot() map[string]int64 {
	return n.clock.Snapshot()
}

// Lag reports how many records this node's clock trails behind batch's
// peer_clock for any single origin, used for max_lag catchup-mode
// backpressure (SPEC_FULL.md §13).
func Lag(local *Clock, peerClock map[string]int64) int64 {
	var max int64
	for origin, v := range peerClock {
		if d := v - local.Get(origin); d > max {
			max = d
		}
	}
	return max
}
