package tools

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolResult adapts audited's (any, error) result into the
// (*mcpsdk.CallToolResult, T, error) shape mcpsdk.AddTool requires,
// following mcp_handler.go's convention of reporting failures as an
// IsError result rather than a Go error so the caller always gets
// structured output back.
func toolResult[T any](out any, err error) (*mcpsdk.CallToolResult, T, error) {
	var zero T
	if err != nil {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			IsError: true,
		}, zero, nil
	}
	typed, _ := out.(T)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}},
	}, typed, nil
}
