package migrations

import "embed"

// Files exposes embedded SQL migrations, one directory per database driver,
// each applied in lexicographic order.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
