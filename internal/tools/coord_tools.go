package tools

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/coordbus"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
)

// BroadcastDiscoveryInput is the input to broadcast_discovery.
type BroadcastDiscoveryInput struct {
	Caller         callerInfo `json:"caller"`
	Payload        string     `json:"payload"`
	Category       string     `json:"category"`
	Severity       string     `json:"severity,omitempty"`
	TargetSelector string     `json:"target_selector,omitempty"`
}

type BroadcastDiscoveryOutput struct {
	MessageID string `json:"message_id"`
	Targets   int    `json:"targets"`
}

func (d *Dispatcher) HandleBroadcastDiscovery(ctx context.Context, _ *mcpsdk.CallToolRequest, in BroadcastDiscoveryInput) (*mcpsdk.CallToolResult, BroadcastDiscoveryOutput, error) {
	params := map[string]any{"category": in.Category, "severity": in.Severity}
	out, err := d.audited(ctx, "broadcast_discovery", in.Caller, params, func(rules.Decision) (any, error) {
		severity := model.Severity(in.Severity)
		if severity == "" {
			severity = model.SeverityInfo
		}
		m, err := d.Bus.Broadcast(ctx, []byte(in.Payload), model.Category(in.Category), severity, in.TargetSelector)
		if err != nil {
			return nil, err
		}
		return BroadcastDiscoveryOutput{MessageID: m.MessageID, Targets: len(m.Deliveries)}, nil
	})
	return toolResult[BroadcastDiscoveryOutput](out, err)
}

// DelegateTaskInput is the input to delegate_task.
type DelegateTaskInput struct {
	Caller               callerInfo `json:"caller"`
	TaskDescription      string     `json:"task_description"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	Priority             string     `json:"priority,omitempty"`
	DeadlineSeconds      int        `json:"deadline_seconds,omitempty"`
}

type DelegateTaskOutput struct {
	MessageID       string `json:"message_id"`
	DelegationState string `json:"delegation_state"`
	AssignedAgent   string `json:"assigned_agent,omitempty"`
}

func (d *Dispatcher) HandleDelegateTask(ctx context.Context, _ *mcpsdk.CallToolRequest, in DelegateTaskInput) (*mcpsdk.CallToolResult, DelegateTaskOutput, error) {
	params := map[string]any{"required_capabilities": in.RequiredCapabilities, "priority": in.Priority}
	out, err := d.audited(ctx, "delegate_task", in.Caller, params, func(rules.Decision) (any, error) {
		var deadline *time.Time
		if in.DeadlineSeconds > 0 {
			t := time.Now().UTC().Add(time.Duration(in.DeadlineSeconds) * time.Second)
			deadline = &t
		}
		m, err := d.Bus.Delegate(ctx, coordbus.DelegateRequest{
			TaskDescription:      []byte(in.TaskDescription),
			RequiredCapabilities: in.RequiredCapabilities,
			Priority:             in.Priority,
			Deadline:             deadline,
		})
		if err != nil {
			return nil, err
		}
		return DelegateTaskOutput{MessageID: m.MessageID, DelegationState: string(m.DelegationState), AssignedAgent: m.AssignedAgent}, nil
	})
	return toolResult[DelegateTaskOutput](out, err)
}

// CancelDelegationInput is the input to cancel_delegation.
type CancelDelegationInput struct {
	Caller    callerInfo `json:"caller"`
	MessageID string     `json:"message_id"`
}

type CancelDelegationOutput struct {
	Cancelled bool `json:"cancelled"`
}

func (d *Dispatcher) HandleCancelDelegation(ctx context.Context, _ *mcpsdk.CallToolRequest, in CancelDelegationInput) (*mcpsdk.CallToolResult, CancelDelegationOutput, error) {
	out, err := d.audited(ctx, "cancel_delegation", in.Caller, map[string]any{"message_id": in.MessageID}, func(rules.Decision) (any, error) {
		if err := d.Bus.CancelDelegation(ctx, in.MessageID); err != nil {
			return nil, err
		}
		return CancelDelegationOutput{Cancelled: true}, nil
	})
	return toolResult[CancelDelegationOutput](out, err)
}

// AcknowledgeMessageInput is the input to acknowledge_message.
type AcknowledgeMessageInput struct {
	Caller    callerInfo `json:"caller"`
	AgentID   string     `json:"agent_id"`
	MessageID string     `json:"message_id"`
}

type AcknowledgeMessageOutput struct {
	Acknowledged bool `json:"acknowledged"`
}

func (d *Dispatcher) HandleAcknowledgeMessage(ctx context.Context, _ *mcpsdk.CallToolRequest, in AcknowledgeMessageInput) (*mcpsdk.CallToolResult, AcknowledgeMessageOutput, error) {
	out, err := d.audited(ctx, "acknowledge_message", in.Caller, map[string]any{"message_id": in.MessageID}, func(rules.Decision) (any, error) {
		if err := d.Bus.Ack(ctx, in.AgentID, in.MessageID); err != nil {
			return nil, err
		}
		return AcknowledgeMessageOutput{Acknowledged: true}, nil
	})
	return toolResult[AcknowledgeMessageOutput](out, err)
}

// QueryCollectiveInput is the input to query_collective.
type QueryCollectiveInput struct {
	Caller         callerInfo `json:"caller"`
	Question       string     `json:"question"`
	Category       string     `json:"category,omitempty"`
	WindowSeconds  int        `json:"window_seconds,omitempty"`
}

type CollectiveResponse struct {
	AgentID string `json:"agent_id"`
	Payload string `json:"payload"`
}

type QueryCollectiveOutput struct {
	MessageID string               `json:"message_id"`
	Responses []CollectiveResponse `json:"responses"`
}

func (d *Dispatcher) HandleQueryCollective(ctx context.Context, _ *mcpsdk.CallToolRequest, in QueryCollectiveInput) (*mcpsdk.CallToolResult, QueryCollectiveOutput, error) {
	out, err := d.audited(ctx, "query_collective", in.Caller, map[string]any{"category": in.Category}, func(rules.Decision) (any, error) {
		window := time.Duration(in.WindowSeconds) * time.Second
		m, err := d.Bus.Query(ctx, coordbus.QueryRequest{
			Question: in.Question, Category: model.Category(in.Category), Window: window,
		})
		if err != nil {
			return nil, err
		}
		responses := d.Bus.CollectResponses(ctx, m.MessageID)
		out := make([]CollectiveResponse, 0, len(responses))
		for _, r := range responses {
			out = append(out, CollectiveResponse{AgentID: r.AgentID, Payload: string(r.Payload)})
		}
		return QueryCollectiveOutput{MessageID: m.MessageID, Responses: out}, nil
	})
	return toolResult[QueryCollectiveOutput](out, err)
}
