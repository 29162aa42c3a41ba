package migrate

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/db"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

// MaybeRunDev applies pending migrations at boot when RELAY_AUTO_MIGRATE is
// set in dev. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"dir": DefaultDir, "db_driver": cfg.DB.Driver})
	var applied bytes.Buffer
	if err := Run(ctx, sqlDB, cfg.DB.Driver, DefaultDir, "up", &applied); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(applied.String()), "\n")
	if applied.Len() == 0 {
		lines = nil
	}
	logg.Info(logg.WithField(ctx, "applied", lines), "schema up to date")
	return nil
}
