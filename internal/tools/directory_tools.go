package tools

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/directory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
)

// RegisterAgentInput is the input to register_agent.
type RegisterAgentInput struct {
	Caller       callerInfo `json:"caller"`
	AgentID      string     `json:"agent_id"`
	MachineID    string     `json:"machine_id"`
	Roles        []string   `json:"roles,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
}

type RegisterAgentOutput struct {
	Registered bool `json:"registered"`
}

func (d *Dispatcher) HandleRegisterAgent(ctx context.Context, _ *mcpsdk.CallToolRequest, in RegisterAgentInput) (*mcpsdk.CallToolResult, RegisterAgentOutput, error) {
	params := map[string]any{"agent_id": in.AgentID, "capabilities": in.Capabilities}
	out, err := d.audited(ctx, "register_agent", in.Caller, params, func(rules.Decision) (any, error) {
		if err := d.Dir.Register(ctx, in.AgentID, in.MachineID, in.Roles, in.Capabilities); err != nil {
			return nil, err
		}
		return RegisterAgentOutput{Registered: true}, nil
	})
	return toolResult[RegisterAgentOutput](out, err)
}

// HeartbeatInput is the input to heartbeat.
type HeartbeatInput struct {
	Caller  callerInfo `json:"caller"`
	AgentID string     `json:"agent_id"`
	Health  string     `json:"health,omitempty"`
}

type HeartbeatOutput struct {
	Acknowledged bool `json:"acknowledged"`
}

func (d *Dispatcher) HandleHeartbeat(ctx context.Context, _ *mcpsdk.CallToolRequest, in HeartbeatInput) (*mcpsdk.CallToolResult, HeartbeatOutput, error) {
	params := map[string]any{"agent_id": in.AgentID}
	out, err := d.audited(ctx, "heartbeat", in.Caller, params, func(rules.Decision) (any, error) {
		if err := d.Dir.Heartbeat(ctx, in.AgentID, in.Health); err != nil {
			return nil, err
		}
		return HeartbeatOutput{Acknowledged: true}, nil
	})
	return toolResult[HeartbeatOutput](out, err)
}

// ListAgentsInput is the input to list_agents.
type ListAgentsInput struct {
	Caller       callerInfo `json:"caller"`
	State        string     `json:"state,omitempty"`
	MachineID    string     `json:"machine_id,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
}

type AgentSummary struct {
	AgentID    string   `json:"agent_id"`
	MachineID  string   `json:"machine_id"`
	State      string   `json:"state"`
	Roles      []string `json:"roles,omitempty"`
	InboxDepth int      `json:"inbox_depth"`
}

type ListAgentsOutput struct {
	Agents []AgentSummary `json:"agents"`
}

func (d *Dispatcher) HandleListAgents(ctx context.Context, _ *mcpsdk.CallToolRequest, in ListAgentsInput) (*mcpsdk.CallToolResult, ListAgentsOutput, error) {
	out, err := d.audited(ctx, "list_agents", in.Caller, map[string]any{"state": in.State}, func(rules.Decision) (any, error) {
		agents, err := d.Dir.List(ctx, directory.Filter{
			State:        model.AgentState(in.State),
			MachineID:    in.MachineID,
			Capabilities: in.Capabilities,
		})
		if err != nil {
			return nil, err
		}
		summaries := make([]AgentSummary, 0, len(agents))
		for _, a := range agents {
			summaries = append(summaries, AgentSummary{
				AgentID: a.AgentID, MachineID: a.MachineID, State: string(a.State),
				Roles: a.Roles, InboxDepth: a.InboxDepth,
			})
		}
		return ListAgentsOutput{Agents: summaries}, nil
	})
	return toolResult[ListAgentsOutput](out, err)
}

// GetAgentStatusInput is the input to get_agent_status.
type GetAgentStatusInput struct {
	Caller  callerInfo `json:"caller"`
	AgentID string     `json:"agent_id"`
}

type GetAgentStatusOutput struct {
	Agent AgentSummary `json:"agent"`
}

func (d *Dispatcher) HandleGetAgentStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, in GetAgentStatusInput) (*mcpsdk.CallToolResult, GetAgentStatusOutput, error) {
	out, err := d.audited(ctx, "get_agent_status", in.Caller, map[string]any{"agent_id": in.AgentID}, func(rules.Decision) (any, error) {
		a, err := d.Dir.Status(ctx, in.AgentID)
		if err != nil {
			return nil, err
		}
		return GetAgentStatusOutput{Agent: AgentSummary{
			AgentID: a.AgentID, MachineID: a.MachineID, State: string(a.State),
			Roles: a.Roles, InboxDepth: a.InboxDepth,
		}}, nil
	})
	return toolResult[GetAgentStatusOutput](out, err)
}
