package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/leveranciersportal/portalsync/internal/app"
	"github.com/leveranciersportal/portalsync/internal/config"
	"github.com/leveranciersportal/portalsync/internal/syncer"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run dispatches to the serve, sync or migrate command. serve is the default.
func run(ctx context.Context, args []string) error {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	force := fs.Bool("force", false, "sync: set the force flag before running")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	switch command {
	case "serve":
		return app.RunServer(ctx, appCfg)
	case "sync":
		result, errSync := app.RunSync(ctx, appCfg, *force)
		logResult(result)
		if errors.Is(errSync, syncer.ErrAlreadyRunning) {
			log.Info("sync skipped: another cycle is running")
			return nil
		}
		return errSync
	case "migrate":
		return app.Migrate(ctx, appCfg)
	default:
		return fmt.Errorf("unknown command %q (expected serve, sync or migrate)", command)
	}
}

func logResult(result syncer.Result) {
	if result.RunID == "" {
		if !result.Due {
			log.Info("sync not due")
		}
		return
	}
	log.WithFields(log.Fields{
		"run_id":            result.RunID,
		"tenants":           result.TenantsProcessed,
		"tenants_skipped":   result.TenantsSkipped,
		"jobs_fetched":      result.JobsFetched,
		"jobs_upserted":     result.JobsUpserted,
		"malformed_records": result.MalformedRecords,
		"errors":            result.Errors,
	}).Info("sync finished")
}
