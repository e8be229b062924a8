// Package server implements the line-protocol front of tenkv: per-connection
// sessions, the command router with its ordered handler pipelines, the TCP
// accept loop and the startup/shutdown persistence protocol.
//
// The protocol is newline-delimited UTF-8 text, one command in and one
// response line out per dispatch. There is no success/error framing; clients
// match response text. Every store mutation is serialized behind a single
// mutex shared with the periodic expiry sweep, which preserves the
// single-writer discipline the storage layer assumes.
//
// Crash recovery: successful mutating commands are appended to a write-ahead
// command log with their logical timestamp. On startup the router replays
// the log as the root user with the clock pinned to each record's timestamp,
// sweeps once, and deletes the log. A graceful shutdown snapshots the
// database collection instead and deletes the log.
package server
