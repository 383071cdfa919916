// Package main is the entry point for the ebay-mcp server and CLI.
package main

import (
	"github.com/donaldgifford/ebay-mcp/cmd/ebay-mcp/cmd"
)

func main() {
	cmd.Execute()
}
