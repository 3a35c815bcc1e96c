// Command refindex builds and maintains a backward reference index for a
// project and serves read-only queries over it.
//
//	refindex rebuild            # build the index from scratch
//	refindex watch              # keep it current as files change
//	refindex status             # sizes and key counts
//	refindex dump               # canonical text form of every table
//	refindex verify             # compare with a scratch rebuild
//	refindex serve              # MCP server on stdio
//
// Configuration comes from --config (YAML) and REFINDEX_* environment
// variables. Logs go to stderr; stdout carries command output or, for
// serve, the MCP protocol.
package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
