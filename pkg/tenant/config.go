package tenant

import "github.com/angelmondragon/backoffice-relay/pkg/config"

// FromConfig builds the allowlist the binaries share. An empty list is only
// open in dev.
func FromConfig(cfg *config.Config) (*Allowlist, error) {
	return New(Options{
		Tenants: cfg.Tenants.Allowlist,
		Path:    cfg.Tenants.AllowlistPath,
		DevOpen: cfg.App.IsDev(),
		Refresh: cfg.Tenants.Refresh,
	})
}
