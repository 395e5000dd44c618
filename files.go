package auth

import (
	"embed"
)

//go:embed data/seed
var seedFS embed.FS

// GetSeedFS returns the embedded RBAC seed catalog
func GetSeedFS() embed.FS {
	return seedFS
}
