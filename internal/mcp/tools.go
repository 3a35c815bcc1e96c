package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/refindex/internal/enumerator"
	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotIndexed    = -32003 // No index is open
)

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := s.index()
	if err != nil {
		return nil, err
	}

	status, err := idx.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	keys := make(map[string]interface{}, len(status.Keys))
	for table, n := range status.Keys {
		keys[table.Name()] = n
	}
	response := map[string]interface{}{
		"schema_version": status.SchemaVersion,
		"project_root":   status.ProjectRoot,
		"index_dir":      idx.Dir(),
		"statistics": map[string]interface{}{
			"files":   status.Files,
			"symbols": status.Symbols,
			"paths":   status.Paths,
		},
		"keys": keys,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListKeys handles the list_keys tool invocation
func (s *Server) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	tableID, err := tableParam(args)
	if err != nil {
		return nil, err
	}
	limit := getIntDefault(args, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	prefix := getStringDefault(args, "prefix", "")

	idx, err := s.index()
	if err != nil {
		return nil, err
	}
	table, err := idx.Table(tableID)
	if err != nil {
		return nil, internalError("failed to open table", err)
	}

	var keys []types.IndexKey
	if err := table.ForEachKey(ctx, func(k types.IndexKey) bool {
		keys = append(keys, k)
		return true
	}); err != nil {
		return nil, internalError("failed to list keys", err)
	}

	rendered := make([]string, 0, len(keys))
	for _, k := range keys {
		text, err := types.FormatKey(ctx, idx.Names(), k)
		if err != nil {
			return nil, internalError("failed to render key", err)
		}
		if strings.HasPrefix(text, prefix) {
			rendered = append(rendered, text)
		}
	}
	sort.Strings(rendered)

	total := len(rendered)
	if total > limit {
		rendered = rendered[:limit]
	}
	response := map[string]interface{}{
		"table":     tableID.Name(),
		"keys":      rendered,
		"total":     total,
		"truncated": total > limit,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetPostings handles the get_postings tool invocation
func (s *Server) handleGetPostings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	tableID, err := tableParam(args)
	if err != nil {
		return nil, err
	}
	keyText, ok := args["key"].(string)
	if !ok || strings.TrimSpace(keyText) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "key parameter is required", map[string]interface{}{
			"param":  "key",
			"reason": "missing or empty",
		})
	}

	idx, err := s.index()
	if err != nil {
		return nil, err
	}

	key, err := parseKey(ctx, idx.Names(), tableID, keyText)
	if errors.Is(err, types.ErrNotFound) {
		// a name the index never interned cannot be a key
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"table":    tableID.Name(),
			"key":      keyText,
			"found":    false,
			"postings": []interface{}{},
		})), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid key", map[string]interface{}{
			"param":  "key",
			"reason": err.Error(),
		})
	}

	postings, err := s.postings(ctx, idx, tableID, key)
	if err != nil {
		return nil, internalError("failed to read postings", err)
	}
	response := map[string]interface{}{
		"table":    tableID.Name(),
		"key":      keyText,
		"found":    len(postings) > 0,
		"postings": postings,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// postings renders every file's posting for key, sorted by path
func (s *Server) postings(ctx context.Context, idx *indexer.Index, tableID types.TableID, key types.IndexKey) ([]map[string]interface{}, error) {
	table, err := idx.Table(tableID)
	if err != nil {
		return nil, err
	}

	type row struct {
		file    types.FileID
		posting types.Posting
	}
	var rows []row
	if err := table.ForEachValueOf(ctx, key, func(f types.FileID, p types.Posting) bool {
		rows = append(rows, row{f, p})
		return true
	}); err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		path, err := idx.Paths().ValueOf(ctx, r.file)
		if err != nil {
			return nil, err
		}
		entry := map[string]interface{}{"file": path}
		switch tableID.ValueShape() {
		case types.ValueCount:
			entry["count"] = r.posting.Count
		case types.ValueRefs:
			refs := make([]string, 0, len(r.posting.Refs))
			for _, ref := range r.posting.Refs {
				text, err := types.FormatRef(ctx, idx.Names(), ref)
				if err != nil {
					return nil, err
				}
				refs = append(refs, text)
			}
			sort.Strings(refs)
			entry["refs"] = refs
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["file"].(string) < out[j]["file"].(string)
	})
	return out, nil
}

func (s *Server) index() (*indexer.Index, error) {
	idx := s.source.Index()
	if idx == nil {
		return nil, newMCPError(ErrorCodeNotIndexed, "no index is open", nil)
	}
	return idx, nil
}

// lookupNames parses keys against the names already in the index. Unknown
// names fail with types.ErrNotFound instead of being interned, so queries
// never write.
type lookupNames struct {
	names *enumerator.Names
}

func (l lookupNames) Intern(ctx context.Context, value string) (types.SymbolID, error) {
	id, ok, err := l.names.Lookup(ctx, value)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: name %q", types.ErrNotFound, value)
	}
	return id, nil
}

// parseKey parses the textual form of a key of the given table
func parseKey(ctx context.Context, names *enumerator.Names, tableID types.TableID, text string) (types.IndexKey, error) {
	lookup := lookupNames{names: names}
	var (
		key types.IndexKey
		err error
	)
	if tableID == types.TableMemberSignatures {
		key, err = types.ParseSignature(ctx, lookup, text)
	} else {
		key, err = types.ParseRef(ctx, lookup, text)
	}
	if err != nil {
		return nil, err
	}
	if err := tableID.ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Helper functions

func tableParam(args map[string]interface{}) (types.TableID, error) {
	name, ok := args["table"].(string)
	if !ok || name == "" {
		return 0, newMCPError(ErrorCodeInvalidParams, "table parameter is required", map[string]interface{}{
			"param":  "table",
			"reason": "missing or empty",
		})
	}
	id, err := types.ParseTableID(name)
	if err != nil {
		return 0, newMCPError(ErrorCodeInvalidParams, "unknown table", map[string]interface{}{
			"param":   "table",
			"value":   name,
			"allowed": tableNames(),
		})
	}
	return id, nil
}

func internalError(message string, err error) error {
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
