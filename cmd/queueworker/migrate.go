package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qflowio/queueworker/internal/apierr"
	"github.com/qflowio/queueworker/internal/config"
	"github.com/qflowio/queueworker/internal/gateway"
	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
	"github.com/qflowio/queueworker/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the queue store and exit",
	Long: `migrate opens the queue store named by APP_QUEUE_DSN, acquires the
session-level advisory lock, and applies every migration embedded under
migrations/ whose version is not yet recorded in schema_version. It
aborts loudly on a checksum mismatch between an applied migration and
its current file rather than attempting anything automatic about it.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log, err := logger.New("development")
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(log)
	if err != nil {
		return exitError(err)
	}

	gw, err := gateway.Open(toStoreDescriptor(cfg.Queue), log)
	if err != nil {
		return exitError(apierr.FatalStore("opening queue store for migration", err))
	}
	defer gw.Close()

	ctx := context.Background()
	applied, err := gw.Migrate(ctx, migrations.FS, string(cfg.Queue.Dialect))
	if err != nil {
		return exitError(err)
	}

	if len(applied) == 0 {
		log.Info("no pending migrations")
	} else {
		log.Info("migrations applied", "versions", applied)
	}
	return nil
}

func toStoreDescriptor(sc config.StoreConfig) model.StoreDescriptor {
	return model.StoreDescriptor{
		Name:         sc.Name,
		Dialect:      model.Dialect(sc.Dialect),
		DSN:          sc.DSN,
		ReadOnly:     sc.ReadOnly,
		PoolSize:     sc.PoolSize,
		MaxOverflow:  sc.MaxOverflow,
		QueryTimeout: sc.QueryTimeout,
	}
}

// exitError wraps err so cobra's Execute prints it and main exits 1
// through the generic error path, while still routing any *apierr.Error
// through apierr.ExitCode via the cmd's own os.Exit in serve's RunE.
// migrate never restarts, so a plain wrapped error is enough here; the
// process-level exit code distinctions matter for serve, where the
// Lifecycle Manager is actually watching them.
func exitError(err error) error {
	return fmt.Errorf("%w", err)
}
