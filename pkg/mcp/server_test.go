package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDroverServer(t *testing.T) {
	s := NewDroverServer(DroverServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotEmpty(t, s.stages)
}

func TestToolRegistration(t *testing.T) {
	s := NewDroverServer(DroverServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"drover.run",
		"drover.resume",
		"drover.status",
		"drover.cancel",
		"drover.query",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "drover.run", "Start a data analysis pipeline run. Blocks until the run completes, suspends for input, or fails"},
		{"resume", "drover.resume", "Deliver input to a suspended run. Blocks until the run completes, suspends again, or fails"},
		{"status", "drover.status", "Get run status, stage progress and any pending question"},
		{"cancel", "drover.cancel", "Cancel an executing or suspended run"},
		{"query", "drover.query", "Query runs or run events"},
	}

	s := NewDroverServer(DroverServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
