package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagelab-api/internal/platform/postgres"
	"github.com/pressly/goose/v3"
)

// MigrationTableName is the goose version table.
const MigrationTableName = "schema_migrations"

// migrationCommands lists the goose commands accepted by -migrate.
var migrationCommands = []string{"up", "down", "reset", "status", "version"}

// slogGooseLogger adapts goose's Printf/Fatalf logger to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) log() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}

// Printf implements goose.Logger.
func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log().Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf implements goose.Logger. It logs at error level and does not exit;
// goose reports the failure through its return value as well.
func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log().Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// validateMigrationCommand rejects commands goose is not asked to run here.
func validateMigrationCommand(command string) error {
	for _, c := range migrationCommands {
		if c == command {
			return nil
		}
	}
	return fmt.Errorf("unknown migration command: %s (expected one of %s)",
		command, strings.Join(migrationCommands, ", "))
}

// runMigrations executes a goose command against db using the migrations
// embedded in the postgres package.
func runMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	if err := validateMigrationCommand(command); err != nil {
		return err
	}

	log := logger.With(
		"component", "migrations",
		"command", command,
		"correlation_id", uuid.NewString(),
	)
	goose.SetLogger(&slogGooseLogger{logger: log})
	goose.SetBaseFS(postgres.Migrations)
	goose.SetTableName(MigrationTableName)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	start := time.Now()
	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, postgres.MigrationsDir)
	case "down":
		err = goose.DownContext(ctx, db, postgres.MigrationsDir)
	case "reset":
		err = goose.ResetContext(ctx, db, postgres.MigrationsDir)
	case "status":
		err = goose.StatusContext(ctx, db, postgres.MigrationsDir)
	case "version":
		err = goose.VersionContext(ctx, db, postgres.MigrationsDir)
	}
	if err != nil {
		log.Error("migration command failed", slog.String("error", err.Error()))
		return fmt.Errorf("migration command '%s' failed: %w", command, err)
	}

	log.Info("migration command executed",
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}
