// migrations contains example migration files that are used in tests.
package migrations

import "embed"

// FS is an embedded filesystem that contains the example migrations at its
// root.
//
//go:embed *.migration
var FS embed.FS
