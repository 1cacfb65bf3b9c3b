// Package migrations holds the journal schema, applied with goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
