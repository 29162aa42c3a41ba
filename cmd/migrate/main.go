package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/backoffice-relay/pkg/bootstrap"
	"github.com/angelmondragon/backoffice-relay/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// file-only commands run without a config or database
	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fail("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			fail("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	case "version":
		if *version == "" {
			fail("missing -version for version command")
		}
	case "up", "down", "status":
	default:
		fail("unknown -cmd value: %s", *cmd)
	}

	os.Exit(run(*cmd, *dir, *version))
}

func run(cmd, dir, version string) int {
	ctx := context.Background()
	rt, err := bootstrap.Open(ctx, bootstrap.Options{Service: "migrate", SkipDevMigrations: true})
	if err != nil {
		rt.Logger.Error(ctx, "failed to bootstrap migrate", err)
		return bootstrap.ExitCode(err)
	}
	defer rt.Close()

	logg := rt.Logger
	ctx = rt.WithFields(ctx, map[string]any{
		"cmd":       cmd,
		"dir":       dir,
		"db_driver": rt.Config.DB.Driver,
	})

	sqlDB, err := rt.DB.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to extract sql.DB", err)
		return bootstrap.ExitFailure
	}

	if cmd == "version" {
		err = migrate.MigrateToVersion(ctx, sqlDB, rt.Config.DB.Driver, dir, version, os.Stdout)
	} else {
		err = migrate.Run(ctx, sqlDB, rt.Config.DB.Driver, dir, cmd, os.Stdout)
	}
	if err != nil {
		logg.Error(ctx, "migration failed", err)
		return bootstrap.ExitFailure
	}
	logg.Info(ctx, "migration complete")
	return bootstrap.ExitOK
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
