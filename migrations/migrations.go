// Package migrations embeds the SQL migrations for the management database
// and for every tenant database.
package migrations

import "embed"

//go:embed management/*.sql tenant/*.sql
var FS embed.FS

const (
	ManagementDir = "management"
	TenantDir     = "tenant"
)
