package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kestrelhq/dirgate/directory"
)

// registerTools wires the directory CRUD tools onto the MCP server.
// The tools are thin glue over directory.Store; business rules live behind
// that interface.
func registerTools(s *server.MCPServer, store directory.Store) {
	searchTool := mcp.NewTool("search_users",
		mcp.WithDescription("Search directory users by username, email, or name. Empty query lists all users."),
		mcp.WithString("query",
			mcp.Description("Case-insensitive substring to match"),
		),
	)
	s.AddTool(searchTool, handleSearchUsers(store))

	getTool := mcp.NewTool("get_user",
		mcp.WithDescription("Fetch a single directory user by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("User record ID"),
		),
	)
	s.AddTool(getTool, handleGetUser(store))

	createTool := mcp.NewTool("create_user",
		mcp.WithDescription("Create a directory user"),
		mcp.WithString("username",
			mcp.Required(),
			mcp.Description("Unique username"),
		),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("Unique email address"),
		),
		mcp.WithString("full_name",
			mcp.Description("Display name"),
		),
	)
	s.AddTool(createTool, handleCreateUser(store))

	updateTool := mcp.NewTool("update_user",
		mcp.WithDescription("Update fields of a directory user. Omitted fields keep their current value."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("User record ID"),
		),
		mcp.WithString("username",
			mcp.Description("New username"),
		),
		mcp.WithString("email",
			mcp.Description("New email address"),
		),
		mcp.WithString("full_name",
			mcp.Description("New display name"),
		),
		mcp.WithBoolean("active",
			mcp.Description("Whether the user is active"),
		),
	)
	s.AddTool(updateTool, handleUpdateUser(store))

	deleteTool := mcp.NewTool("delete_user",
		mcp.WithDescription("Delete a directory user by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("User record ID"),
		),
	)
	s.AddTool(deleteTool, handleDeleteUser(store))
}

// toolNames lists the registered tools for the GET metadata response.
func toolNames() []string {
	return []string{"search_users", "get_user", "create_user", "update_user", "delete_user"}
}

// requireWriteScope gates mutating tools on the directory:write scope.
func requireWriteScope(ctx context.Context) *mcp.CallToolResult {
	identity, ok := IdentityFromContext(ctx)
	if !ok || !identity.HasScope(ScopeDirectoryWrite) {
		return mcp.NewToolResultError(fmt.Sprintf("insufficient scope: %s required", ScopeDirectoryWrite))
	}
	return nil
}

func handleSearchUsers(store directory.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, _ := request.GetArguments()["query"].(string)

		records, err := store.Search(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return jsonResult(map[string]any{
			"users": records,
			"count": len(records),
		})
	}
}

func handleGetUser(store directory.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id argument is required"), nil
		}

		rec, err := store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("user not found: %s", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		return jsonResult(rec)
	}
}

func handleCreateUser(store directory.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if denied := requireWriteScope(ctx); denied != nil {
			return denied, nil
		}

		username, err := request.RequireString("username")
		if err != nil {
			return mcp.NewToolResultError("username argument is required"), nil
		}
		email, err := request.RequireString("email")
		if err != nil {
			return mcp.NewToolResultError("email argument is required"), nil
		}
		fullName, _ := request.GetArguments()["full_name"].(string)

		rec, err := store.Create(ctx, &directory.Record{
			Username: username,
			Email:    email,
			FullName: fullName,
			Active:   true,
		})
		if err != nil {
			if errors.Is(err, directory.ErrConflict) {
				return mcp.NewToolResultError("a user with that username or email already exists"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", err)), nil
		}

		return jsonResult(rec)
	}
}

func handleUpdateUser(store directory.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if denied := requireWriteScope(ctx); denied != nil {
			return denied, nil
		}

		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id argument is required"), nil
		}

		rec, err := store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("user not found: %s", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		args := request.GetArguments()
		if username, ok := args["username"].(string); ok && username != "" {
			rec.Username = username
		}
		if email, ok := args["email"].(string); ok && email != "" {
			rec.Email = email
		}
		if fullName, ok := args["full_name"].(string); ok && fullName != "" {
			rec.FullName = fullName
		}
		if active, ok := args["active"].(bool); ok {
			rec.Active = active
		}

		updated, err := store.Update(ctx, rec)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", err)), nil
		}

		return jsonResult(updated)
	}
}

func handleDeleteUser(store directory.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if denied := requireWriteScope(ctx); denied != nil {
			return denied, nil
		}

		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id argument is required"), nil
		}

		if err := store.Delete(ctx, id); err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("user not found: %s", id)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
		}

		return jsonResult(map[string]any{"deleted": true, "id": id})
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
