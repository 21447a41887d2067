// Package migrations embeds the SQL files applied to every center schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
