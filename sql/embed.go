// Package sql embeds the goose migrations so binaries do not depend on the
// working directory
package sql

import "embed"

//go:embed *.sql
var Migrations embed.FS
