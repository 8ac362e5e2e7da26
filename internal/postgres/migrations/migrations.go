// Package migrations embeds the schema migration files so the migrate
// command works from a bare binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists the migrations in apply order.
var Files = []string{
	"001_create_call_queue.sql",
	"002_create_call_history.sql",
}
