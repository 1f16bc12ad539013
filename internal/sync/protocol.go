package sync

import (
	"time"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// HelloRequest is step 2 of spec.md §4.7: the initiator's vector clock,
// plus enough identity for the responder to apply the scope filter
// (project-tagged peers only receive project-scope records).
type HelloRequest struct {
	FromMachine string           `json:"from_machine"`
	ProjectTag  string           `json:"project_tag"`
	Clock       map[string]int64 `json:"clock"`
}

// WireRecord is the over-the-wire shape of a MemoryItem log entry.
type WireRecord struct {
	ID            string   `json:"id"`
	Content       []byte   `json:"content,omitempty"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags,omitempty"`
	Context       string   `json:"context,omitempty"`
	Scope         string   `json:"scope"`
	OriginMachine string   `json:"origin_machine"`
	OriginAgent   string   `json:"origin_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64    `json:"version"`
	Tombstone     bool     `json:"tombstone"`
}

func toWireRecord(m model.MemoryItem) WireRecord {
	return WireRecord{
		ID: string(m.ID), Content: m.Content, Category: string(m.Category),
		Tags: m.Tags, Context: m.Context, Scope: string(m.Scope),
		OriginMachine: m.OriginMachine, OriginAgent: m.OriginAgent,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
		Version: m.Version, Tombstone: m.Tombstone,
	}
}

func fromWireRecord(w WireRecord) model.MemoryItem {
	return model.MemoryItem{
		ID: model.ID(w.ID), Content: w.Content, Category: model.Category(w.Category),
		Tags: w.Tags, Context: w.Context, Scope: model.Scope(w.Scope),
		OriginMachine: w.OriginMachine, OriginAgent: w.OriginAgent,
		CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
		Version: w.Version, Tombstone: w.Tombstone,
	}
}

// WireRule is the over-the-wire shape of a replicated Rule.
type WireRule struct {
	Rule model.Rule `json:"rule"`
}

// BatchResponse is step 3 of spec.md §4.7: every log entry newer than the
// initiator's clock, bounded by max_records_per_round.
type BatchResponse struct {
	Records    []WireRecord     `json:"records"`
	Rules      []model.Rule     `json:"rules"`
	PeerClock  map[string]int64 `json:"peer_clock"`
	FullResync bool             `json:"full_resync"`
}

// AckRequest is step 5: the initiator's updated clock, letting the
// responder know which records it can safely stop re-offering.
type AckRequest struct {
	FromMachine string           `json:"from_machine"`
	Clock       map[string]int64 `json:"clock"`
}

// scopeApplies implements spec.md §4.7's replication scope filter: local
// and machine-scoped items never leave their origin; project-scoped items
// replicate only to peers sharing the project tag; network-shared always
// replicates.
func scopeApplies(item model.MemoryItem, requesterMachine, requesterProjectTag string) bool {
	switch item.Scope {
	case model.ScopeLocal:
		return false
	case model.ScopeMachine:
		return item.OriginMachine == requesterMachine
	case model.ScopeProject:
		if requesterProjectTag == "" {
			return false
		}
		for _, t := range item.Tags {
			if t == requesterProjectTag {
				return true
			}
		}
		return false
	case model.ScopeNetworkShared:
		return true
	default:
		return false
	}
}
