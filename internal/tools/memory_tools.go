package tools

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/memory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
)

// StoreMemoryInput is the input to store_memory.
type StoreMemoryInput struct {
	Caller        callerInfo `json:"caller"`
	Content       string     `json:"content" jsonschema:"Content to store"`
	Category      string     `json:"category" jsonschema:"One of the fixed memory categories"`
	Tags          []string   `json:"tags,omitempty"`
	Context       string     `json:"context,omitempty"`
	Scope         string     `json:"scope" jsonschema:"local, machine, project, or network-shared"`
	OriginAgent   string     `json:"origin_agent,omitempty"`
}

type StoreMemoryOutput struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

func (d *Dispatcher) HandleStoreMemory(ctx context.Context, _ *mcpsdk.CallToolRequest, in StoreMemoryInput) (*mcpsdk.CallToolResult, StoreMemoryOutput, error) {
	params := map[string]any{"category": in.Category, "scope": in.Scope, "tags": in.Tags}
	out, err := d.audited(ctx, "store_memory", in.Caller, params, func(decision rules.Decision) (any, error) {
		category := in.Category
		if v, ok := decision.FieldResults["category"]; ok && v != "" {
			category = v
		}
		item, err := d.Mem.Put(ctx, memory.PutRequest{
			Content:       []byte(in.Content),
			Category:      model.Category(category),
			Tags:          in.Tags,
			Context:       in.Context,
			Scope:         model.Scope(in.Scope),
			OriginMachine: resolveMachine(in.Caller, d.MachineID),
			OriginAgent:   in.OriginAgent,
		})
		if err != nil {
			return nil, err
		}
		return StoreMemoryOutput{ID: string(item.ID), Version: item.Version}, nil
	})
	return toolResult[StoreMemoryOutput](out, err)
}

// SearchMemoriesInput is the input to retrieve_memory / search_memories.
type SearchMemoriesInput struct {
	Caller   callerInfo `json:"caller"`
	Query    string     `json:"query"`
	Category string     `json:"category,omitempty"`
	K        int        `json:"k,omitempty"`
}

type MemoryHit struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

type SearchMemoriesOutput struct {
	Results []MemoryHit `json:"results"`
}

func (d *Dispatcher) HandleSearchMemories(ctx context.Context, _ *mcpsdk.CallToolRequest, in SearchMemoriesInput) (*mcpsdk.CallToolResult, SearchMemoriesOutput, error) {
	params := map[string]any{"query": in.Query, "category": in.Category}
	out, err := d.audited(ctx, "search_memories", in.Caller, params, func(rules.Decision) (any, error) {
		results, err := d.Mem.Search(ctx, memory.SearchRequest{Query: in.Query, Category: model.Category(in.Category), K: in.K})
		if err != nil {
			return nil, err
		}
		hits := make([]MemoryHit, 0, len(results))
		for _, r := range results {
			hits = append(hits, MemoryHit{ID: string(r.Item.ID), Content: string(r.Item.Content), Category: string(r.Item.Category), Score: r.Score})
		}
		return SearchMemoriesOutput{Results: hits}, nil
	})
	return toolResult[SearchMemoriesOutput](out, err)
}

// DeleteMemoryInput is the input to delete_memory.
type DeleteMemoryInput struct {
	Caller callerInfo `json:"caller"`
	ID     string     `json:"id"`
}

type DeleteMemoryOutput struct {
	Deleted bool `json:"deleted"`
}

func (d *Dispatcher) HandleDeleteMemory(ctx context.Context, _ *mcpsdk.CallToolRequest, in DeleteMemoryInput) (*mcpsdk.CallToolResult, DeleteMemoryOutput, error) {
	params := map[string]any{"id": in.ID}
	out, err := d.audited(ctx, "delete_memory", in.Caller, params, func(rules.Decision) (any, error) {
		if err := d.Mem.Delete(ctx, model.ID(in.ID), resolveMachine(in.Caller, d.MachineID)); err != nil {
			return nil, err
		}
		return DeleteMemoryOutput{Deleted: true}, nil
	})
	return toolResult[DeleteMemoryOutput](out, err)
}

// BulkDeleteMemoriesInput is the input to bulk_delete_memories.
type BulkDeleteMemoriesInput struct {
	Caller callerInfo `json:"caller"`
	IDs    []string   `json:"ids"`
}

type BulkDeleteMemoriesOutput struct {
	Deleted  int               `json:"deleted"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (d *Dispatcher) HandleBulkDeleteMemories(ctx context.Context, _ *mcpsdk.CallToolRequest, in BulkDeleteMemoriesInput) (*mcpsdk.CallToolResult, BulkDeleteMemoriesOutput, error) {
	params := map[string]any{"count": len(in.IDs)}
	out, err := d.audited(ctx, "bulk_delete_memories", in.Caller, params, func(rules.Decision) (any, error) {
		ids := make([]model.ID, len(in.IDs))
		for i, id := range in.IDs {
			ids[i] = model.ID(id)
		}
		deleted, failures := d.Mem.BulkDelete(ctx, ids, resolveMachine(in.Caller, d.MachineID))
		out := BulkDeleteMemoriesOutput{Deleted: deleted}
		if len(failures) > 0 {
			out.Failures = make(map[string]string, len(failures))
			for id, ferr := range failures {
				out.Failures[string(id)] = ferr.Error()
			}
		}
		return out, nil
	})
	return toolResult[BulkDeleteMemoriesOutput](out, err)
}

// GetFormatGuideInput is the input to get_format_guide.
type GetFormatGuideInput struct {
	Caller callerInfo `json:"caller"`
}

type GetFormatGuideOutput struct {
	Categories []string `json:"categories"`
	Scopes     []string `json:"scopes"`
}

func (d *Dispatcher) HandleGetFormatGuide(ctx context.Context, _ *mcpsdk.CallToolRequest, in GetFormatGuideInput) (*mcpsdk.CallToolResult, GetFormatGuideOutput, error) {
	out, err := d.audited(ctx, "get_format_guide", in.Caller, nil, func(rules.Decision) (any, error) {
		cats := make([]string, 0, len(model.AllCategories))
		for _, c := range model.AllCategories {
			cats = append(cats, string(c))
		}
		return GetFormatGuideOutput{
			Categories: cats,
			Scopes:     []string{string(model.ScopeLocal), string(model.ScopeMachine), string(model.ScopeProject), string(model.ScopeNetworkShared)},
		}, nil
	})
	return toolResult[GetFormatGuideOutput](out, err)
}

// GetMemoryAccessStatsInput is the input to get_memory_access_stats.
type GetMemoryAccessStatsInput struct {
	Caller callerInfo `json:"caller"`
}

type GetMemoryAccessStatsOutput struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

func (d *Dispatcher) HandleGetMemoryAccessStats(ctx context.Context, _ *mcpsdk.CallToolRequest, in GetMemoryAccessStatsInput) (*mcpsdk.CallToolResult, GetMemoryAccessStatsOutput, error) {
	out, err := d.audited(ctx, "get_memory_access_stats", in.Caller, nil, func(rules.Decision) (any, error) {
		stats, err := d.Mem.Stats(ctx)
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int64, len(stats.Counts))
		for cat, n := range stats.Counts {
			counts[string(cat)] = n
		}
		return GetMemoryAccessStatsOutput{Counts: counts, Total: stats.Total}, nil
	})
	return toolResult[GetMemoryAccessStatsOutput](out, err)
}

func resolveMachine(caller callerInfo, fallback string) string {
	if caller.MachineID != "" {
		return caller.MachineID
	}
	return fallback
}
