package tools

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Register adds every C9 tool to server, following mcp_handler.go's
// AddTool-per-tool registration pattern.
func Register(server *mcpsdk.Server, d *Dispatcher) {
	mcpsdk.AddTool[StoreMemoryInput, StoreMemoryOutput](server, &mcpsdk.Tool{
		Name:        "store_memory",
		Description: "Store a new memory item, subject to category dedup and governance rules",
	}, d.HandleStoreMemory)

	mcpsdk.AddTool[SearchMemoriesInput, SearchMemoriesOutput](server, &mcpsdk.Tool{
		Name:        "retrieve_memory",
		Description: "Search memory items by embedded similarity to a query",
	}, d.HandleSearchMemories)

	mcpsdk.AddTool[SearchMemoriesInput, SearchMemoriesOutput](server, &mcpsdk.Tool{
		Name:        "search_memories",
		Description: "Alias of retrieve_memory",
	}, d.HandleSearchMemories)

	mcpsdk.AddTool[DeleteMemoryInput, DeleteMemoryOutput](server, &mcpsdk.Tool{
		Name:        "delete_memory",
		Description: "Tombstone one memory item by id",
	}, d.HandleDeleteMemory)

	mcpsdk.AddTool[BulkDeleteMemoriesInput, BulkDeleteMemoriesOutput](server, &mcpsdk.Tool{
		Name:        "bulk_delete_memories",
		Description: "Tombstone many memory items by id in one call",
	}, d.HandleBulkDeleteMemories)

	mcpsdk.AddTool[RegisterAgentInput, RegisterAgentOutput](server, &mcpsdk.Tool{
		Name:        "register_agent",
		Description: "Register an agent identity in the directory",
	}, d.HandleRegisterAgent)

	mcpsdk.AddTool[HeartbeatInput, HeartbeatOutput](server, &mcpsdk.Tool{
		Name:        "heartbeat",
		Description: "Refresh an agent's last-seen timestamp and health",
	}, d.HandleHeartbeat)

	mcpsdk.AddTool[ListAgentsInput, ListAgentsOutput](server, &mcpsdk.Tool{
		Name:        "list_agents",
		Description: "List registered agents, optionally filtered by state/machine/capabilities",
	}, d.HandleListAgents)

	mcpsdk.AddTool[GetAgentStatusInput, GetAgentStatusOutput](server, &mcpsdk.Tool{
		Name:        "get_agent_status",
		Description: "Fetch one agent's directory record",
	}, d.HandleGetAgentStatus)

	mcpsdk.AddTool[BroadcastDiscoveryInput, BroadcastDiscoveryOutput](server, &mcpsdk.Tool{
		Name:        "broadcast_discovery",
		Description: "Broadcast a message to every agent matching a target selector",
	}, d.HandleBroadcastDiscovery)

	mcpsdk.AddTool[DelegateTaskInput, DelegateTaskOutput](server, &mcpsdk.Tool{
		Name:        "delegate_task",
		Description: "Assign a task to the least-loaded agent with the required capabilities",
	}, d.HandleDelegateTask)

	mcpsdk.AddTool[CancelDelegationInput, CancelDelegationOutput](server, &mcpsdk.Tool{
		Name:        "cancel_delegation",
		Description: "Cancel a pending or assigned delegation",
	}, d.HandleCancelDelegation)

	mcpsdk.AddTool[AcknowledgeMessageInput, AcknowledgeMessageOutput](server, &mcpsdk.Tool{
		Name:        "acknowledge_message",
		Description: "Acknowledge receipt of a delivered message",
	}, d.HandleAcknowledgeMessage)

	mcpsdk.AddTool[QueryCollectiveInput, QueryCollectiveOutput](server, &mcpsdk.Tool{
		Name:        "query_collective",
		Description: "Broadcast a question and collect responses within a time window",
	}, d.HandleQueryCollective)

	mcpsdk.AddTool[SyncStatusInput, SyncStatusOutput](server, &mcpsdk.Tool{
		Name:        "sync_status",
		Description: "Report this node's vector clock",
	}, d.HandleSyncStatus)

	mcpsdk.AddTool[ForceSyncInput, ForceSyncOutput](server, &mcpsdk.Tool{
		Name:        "force_sync",
		Description: "Run an immediate sync round against one peer",
	}, d.HandleForceSync)

	mcpsdk.AddTool[GetFormatGuideInput, GetFormatGuideOutput](server, &mcpsdk.Tool{
		Name:        "get_format_guide",
		Description: "Describe the fixed category and scope enumerations",
	}, d.HandleGetFormatGuide)

	mcpsdk.AddTool[GetMemoryAccessStatsInput, GetMemoryAccessStatsOutput](server, &mcpsdk.Tool{
		Name:        "get_memory_access_stats",
		Description: "Report live memory item counts per category",
	}, d.HandleGetMemoryAccessStats)
}
