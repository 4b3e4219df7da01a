// Package migrations holds the chat history schema, embedded into the binary.
package migrations

import "embed"

// FS contains the numbered up/down SQL files.
//
//go:embed *.sql
var FS embed.FS
