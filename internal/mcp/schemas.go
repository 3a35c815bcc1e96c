package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/refindex/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func tableNames() []string {
	names := make([]string, 0, len(types.AllTables))
	for _, t := range types.AllTables {
		names = append(names, t.Name())
	}
	return names
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report the schema version, project root, file and symbol counts, and key count per table of the backward reference index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listKeysTool returns the tool definition for list_keys
func listKeysTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_keys",
		Description: "List the keys of one index table in their textual form, sorted",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table": map[string]interface{}{
					"type":        "string",
					"description": "Table to list",
					"enum":        tableNames(),
				},
				"prefix": map[string]interface{}{
					"type":        "string",
					"description": "Only list keys starting with this text (e.g. 'a.b.Foo')",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of keys to return",
					"default":     defaultListLimit,
					"minimum":     1,
					"maximum":     maxListLimit,
				},
			},
			Required: []string{"table"},
		},
	}
}

// getPostingsTool returns the tool definition for get_postings
func getPostingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_postings",
		Description: "Show which files contribute a key of one index table, with their counts or referenced sets",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table": map[string]interface{}{
					"type":        "string",
					"description": "Table to query",
					"enum":        tableNames(),
				},
				"key": map[string]interface{}{
					"type":        "string",
					"description": "Key in textual form: 'a.b.Foo', 'a.b.Foo#bar(2)', 'a.b.Foo#baz', 'anon:Foo$1', 'lambda:3', or a signature such as 'static a.b.Foo:scalar'",
				},
			},
			Required: []string{"table", "key"},
		},
	}
}
