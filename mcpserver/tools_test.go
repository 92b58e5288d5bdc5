package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/dirgate/directory"
)

func writeContext() context.Context {
	return ContextWithIdentity(context.Background(), &Identity{
		Subject: "writer",
		Scopes:  []string{ScopeDirectoryRead, ScopeDirectoryWrite},
		Source:  SourceBearer,
	})
}

func readOnlyContext() context.Context {
	return ContextWithIdentity(context.Background(), &Identity{
		Subject: "reader",
		Scopes:  []string{ScopeDirectoryRead},
		Source:  SourceSession,
	})
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	return text.Text
}

func seedUser(t *testing.T, store *directory.MemoryStore, username, email string) *directory.Record {
	t.Helper()
	rec, err := store.Create(context.Background(), &directory.Record{
		Username: username,
		Email:    email,
		Active:   true,
	})
	require.NoError(t, err)
	return rec
}

func TestSearchUsersTool(t *testing.T) {
	store := directory.NewMemoryStore()
	seedUser(t, store, "ada", "ada@example.com")
	seedUser(t, store, "grace", "grace@example.com")
	handler := handleSearchUsers(store)

	result, err := handler(readOnlyContext(), toolRequest("search_users", map[string]any{"query": "ada"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		Users []directory.Record `json:"users"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &payload))
	assert.Equal(t, 1, payload.Count)
	require.Len(t, payload.Users, 1)
	assert.Equal(t, "ada", payload.Users[0].Username)

	// Empty query lists everyone.
	result, err = handler(readOnlyContext(), toolRequest("search_users", nil))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &payload))
	assert.Equal(t, 2, payload.Count)
}

func TestGetUserTool(t *testing.T) {
	store := directory.NewMemoryStore()
	rec := seedUser(t, store, "ada", "ada@example.com")
	handler := handleGetUser(store)

	result, err := handler(readOnlyContext(), toolRequest("get_user", map[string]any{"id": rec.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "ada@example.com")

	result, err = handler(readOnlyContext(), toolRequest("get_user", map[string]any{"id": "no-such-id"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user not found")

	result, err = handler(readOnlyContext(), toolRequest("get_user", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCreateUserTool(t *testing.T) {
	store := directory.NewMemoryStore()
	handler := handleCreateUser(store)

	result, err := handler(writeContext(), toolRequest("create_user", map[string]any{
		"username":  "ada",
		"email":     "ada@example.com",
		"full_name": "Ada Lovelace",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var rec directory.Record
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Ada Lovelace", rec.FullName)
	assert.True(t, rec.Active, "new users start active")

	// Duplicate username reports a conflict.
	result, err = handler(writeContext(), toolRequest("create_user", map[string]any{
		"username": "ada",
		"email":    "other@example.com",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already exists")
}

func TestCreateUserTool_MissingArguments(t *testing.T) {
	handler := handleCreateUser(directory.NewMemoryStore())

	result, err := handler(writeContext(), toolRequest("create_user", map[string]any{"username": "ada"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "email")
}

func TestUpdateUserTool(t *testing.T) {
	store := directory.NewMemoryStore()
	rec := seedUser(t, store, "ada", "ada@example.com")
	handler := handleUpdateUser(store)

	result, err := handler(writeContext(), toolRequest("update_user", map[string]any{
		"id":        rec.ID,
		"full_name": "Ada Lovelace",
		"active":    false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var updated directory.Record
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &updated))
	assert.Equal(t, "Ada Lovelace", updated.FullName)
	assert.False(t, updated.Active)
	assert.Equal(t, "ada", updated.Username, "omitted fields keep their value")

	result, err = handler(writeContext(), toolRequest("update_user", map[string]any{"id": "no-such-id"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDeleteUserTool(t *testing.T) {
	store := directory.NewMemoryStore()
	rec := seedUser(t, store, "ada", "ada@example.com")
	handler := handleDeleteUser(store)

	result, err := handler(writeContext(), toolRequest("delete_user", map[string]any{"id": rec.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"deleted": true`)

	_, getErr := store.Get(context.Background(), rec.ID)
	assert.ErrorIs(t, getErr, directory.ErrNotFound)

	result, err = handler(writeContext(), toolRequest("delete_user", map[string]any{"id": rec.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWriteToolsRequireWriteScope(t *testing.T) {
	store := directory.NewMemoryStore()
	rec := seedUser(t, store, "ada", "ada@example.com")

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		request mcp.CallToolRequest
	}{
		{
			name:    "create_user",
			handler: handleCreateUser(store),
			request: toolRequest("create_user", map[string]any{"username": "x", "email": "x@example.com"}),
		},
		{
			name:    "update_user",
			handler: handleUpdateUser(store),
			request: toolRequest("update_user", map[string]any{"id": rec.ID}),
		},
		{
			name:    "delete_user",
			handler: handleDeleteUser(store),
			request: toolRequest("delete_user", map[string]any{"id": rec.ID}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Read-only session identity.
			result, err := tt.handler(readOnlyContext(), tt.request)
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), "insufficient scope")

			// No identity at all.
			result, err = tt.handler(context.Background(), tt.request)
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}

	// The record survives the denied attempts.
	_, err := store.Get(context.Background(), rec.ID)
	assert.NoError(t, err)
}

func TestReadToolsAllowedForSessions(t *testing.T) {
	store := directory.NewMemoryStore()
	seedUser(t, store, "ada", "ada@example.com")

	result, err := handleSearchUsers(store)(readOnlyContext(), toolRequest("search_users", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}
