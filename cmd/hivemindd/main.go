package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/logging"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/telemetry"
)

// exit codes per spec.md §6.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitTransientIO   = 2
	exitFatalInvariant = 3
)

func main() {
	var cfgFile string
	v := viper.New()
	config.BindDefaults(v)
	v.SetEnvPrefix("hivemind")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	log := logging.New()

	shutdownTracing, err := telemetry.InstallProvider(context.Background(), telemetry.ProviderConfig{
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		ServiceName: "hivemindd",
	})
	if err != nil {
		log.Error(err, "failed to install tracer provider")
		os.Exit(exitFatalInvariant)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	root := &cobra.Command{
		Use:   "hivemindd",
		Short: "hivemindd runs the collective-memory and coordination fabric",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (yaml/json/toml)")

	root.AddCommand(
		serveCmd(v, &cfgFile, log),
		syncOnceCmd(v, &cfgFile, log),
		dumpCmd(v, &cfgFile, log),
		restoreCmd(v, &cfgFile, log),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func loadConfig(v *viper.Viper, cfgFile string) (*config.Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, model.NewFault(model.FaultInvalidParameters, "read config file", err)
		}
	}
	return config.Get(v)
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	f, ok := model.AsFault(err)
	if !ok {
		return exitFatalInvariant
	}
	switch f.Kind {
	case model.FaultInvalidParameters, model.FaultInvalidCategory:
		return exitConfigError
	case model.FaultStorageUnavailable, model.FaultPeerUnreachable, model.FaultTimeout:
		return exitTransientIO
	default:
		return exitFatalInvariant
	}
}

// serveCmd starts the MCP transport, every cron-driven sweep, and the
// admin (/metrics, /health) listener, then blocks for SIGINT/SIGTERM.
func serveCmd(v *viper.Viper, cfgFile *string, log logr.Logger) *cobra.Command {
	var adminAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the fabric (MCP transport, sync, sweeps) until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, *cfgFile)
			if err != nil {
				return err
			}
			a, err := build(cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.dir.StartSweep("@every 30s", cfg.Sync.RetentionHorizon); err != nil {
				return model.NewFault(model.FaultInvariantViolation, "start directory sweep", err)
			}
			if err := a.server.StartSweep(""); err != nil {
				return model.NewFault(model.FaultInvariantViolation, "start session sweep", err)
			}
			if a.node != nil {
				syncSrv := &http.Server{Addr: cfg.Sync.ListenAddr, Handler: a.node.Handler()}
				go func() {
					if err := syncSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error(err, "sync server stopped")
					}
				}()
				if err := a.node.StartSchedule(cfg.Sync.Peers); err != nil {
					return model.NewFault(model.FaultInvariantViolation, "start sync schedule", err)
				}
			}

			adminSrv := &http.Server{Addr: adminAddr, Handler: a.adminMux()}
			go func() {
				if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error(err, "admin server stopped")
				}
			}()

			mcpSrv := &http.Server{Addr: cfg.Transport.Addr, Handler: a.server}
			go func() {
				if err := mcpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error(err, "mcp server stopped")
				}
			}()

			log.Info("hivemindd serving", "mcp_addr", cfg.Transport.Addr, "admin_addr", adminAddr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(shutdownCtx)
			_ = mcpSrv.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminAddr, "admin-addr", ":9090", "bind address for /metrics and /health")
	return cmd
}

// syncOnceCmd runs a single initiator-side sync round against every
// configured peer and exits, for cron-driven or manual catchup.
func syncOnceCmd(v *viper.Viper, cfgFile *string, log logr.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "run one sync round against each configured peer and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, *cfgFile)
			if err != nil {
				return err
			}
			a, err := build(cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			if a.node == nil {
				return model.NewFault(model.FaultInvalidParameters, "no sync peers configured", nil)
			}
			ctx := cmd.Context()
			var lastErr error
			for _, peer := range cfg.Sync.Peers {
				if err := a.node.Round(ctx, peer); err != nil {
					log.Error(err, "sync round failed", "peer", peer)
					lastErr = err
				}
			}
			return lastErr
		},
	}
}

// dumpCmd writes every live record in one category to stdout as a JSON
// array, for backup or inspection.
func dumpCmd(v *viper.Viper, cfgFile *string, log logr.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <category>",
		Short: "dump every live memory item in a category as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := model.Category(args[0])
			if !category.Valid() {
				return model.NewFault(model.FaultInvalidCategory, args[0], nil)
			}
			cfg, err := loadConfig(v, *cfgFile)
			if err != nil {
				return err
			}
			storageMgr, err := storage.Open(&cfg.Storage)
			if err != nil {
				return model.NewFault(model.FaultStorageUnavailable, "open storage", err)
			}
			defer storageMgr.Close()
			db := storage.NewStore(storageMgr)

			items, err := db.Scan(cmd.Context(), storage.Filter{Category: category})
			if err != nil {
				return model.NewFault(model.FaultStorageUnavailable, "scan category", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		},
	}
}

// restoreCmd re-applies a dump file's records through the same last-writer-
// wins path replicated sync uses, so restoring twice is idempotent.
func restoreCmd(v *viper.Viper, cfgFile *string, log logr.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "restore memory items from a file produced by dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return model.NewFault(model.FaultInvalidParameters, "read dump file", err)
			}
			var items []model.MemoryItem
			if err := json.Unmarshal(data, &items); err != nil {
				return model.NewFault(model.FaultInvalidParameters, "parse dump file", err)
			}

			cfg, err := loadConfig(v, *cfgFile)
			if err != nil {
				return err
			}
			a, err := build(cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			restored := 0
			for _, item := range items {
				if err := a.mem.ApplyReplicated(ctx, item); err != nil {
					log.Error(err, "restore item failed", "id", item.ID)
					continue
				}
				restored++
			}
			fmt.Fprintf(os.Stdout, "restored %d/%d records\n", restored, len(items))
			return nil
		},
	}
}
