// Package cmd implements the command-line interface for the tenkv
// multi-tenant key-value store. It provides a hierarchical command structure
// with operations for running the server and talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the tenkv server
//   - client: An interactive line client for a running server
//   - util: Shared utilities for command-line processing (internal use)
//
// See tenkv -help for a list of all commands.
package cmd
