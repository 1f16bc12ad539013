package tools

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
)

// SyncStatusInput is the input to sync_status.
type SyncStatusInput struct {
	Caller callerInfo `json:"caller"`
}

type SyncStatusOutput struct {
	Clock map[string]int64 `json:"clock"`
}

func (d *Dispatcher) HandleSyncStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, in SyncStatusInput) (*mcpsdk.CallToolResult, SyncStatusOutput, error) {
	out, err := d.audited(ctx, "sync_status", in.Caller, nil, func(rules.Decision) (any, error) {
		if d.Node == nil {
			return SyncStatusOutput{}, model.NewFault(model.FaultInvalidParameters, "sync not configured", nil)
		}
		return SyncStatusOutput{Clock: d.Node.ClockSnapshot()}, nil
	})
	return toolResult[SyncStatusOutput](out, err)
}

// ForceSyncInput is the input to force_sync.
type ForceSyncInput struct {
	Caller callerInfo `json:"caller"`
	Peer   string     `json:"peer"`
}

type ForceSyncOutput struct {
	Completed bool `json:"completed"`
}

func (d *Dispatcher) HandleForceSync(ctx context.Context, _ *mcpsdk.CallToolRequest, in ForceSyncInput) (*mcpsdk.CallToolResult, ForceSyncOutput, error) {
	out, err := d.audited(ctx, "force_sync", in.Caller, map[string]any{"peer": in.Peer}, func(rules.Decision) (any, error) {
		if d.Node == nil {
			return ForceSyncOutput{}, model.NewFault(model.FaultInvalidParameters, "sync not configured", nil)
		}
		if err := d.Node.Round(ctx, in.Peer); err != nil {
			return nil, err
		}
		return ForceSyncOutput{Completed: true}, nil
	})
	return toolResult[ForceSyncOutput](out, err)
}
