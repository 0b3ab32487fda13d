package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Thaura644/llm-conduit/internal/config"
	"github.com/Thaura644/llm-conduit/internal/engine"
	"github.com/Thaura644/llm-conduit/internal/eventlog"
	"github.com/Thaura644/llm-conduit/internal/knowledge"
	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/permission"
	"github.com/Thaura644/llm-conduit/internal/server"
	"github.com/Thaura644/llm-conduit/internal/store"
	"github.com/Thaura644/llm-conduit/internal/tools"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.3.0"

var (
	// Global flags
	verbose     bool
	dbPath      string
	orgfilePath string
	listenAddr  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "LLM-Conduit - Decision Arbitration Engine",
	Long: `LLM-Conduit turns a human goal into competing proposals from a team of
LLM-backed agent roles, arbitrates them through a weighted governance
protocol, and executes the authorized actions behind a permission gate.

Run "conduit serve" to start the engine and its HTTP surface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and its HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the conduit version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("conduit %s\n", version)
	},
}

func runServe(ctx context.Context) error {
	path := dbPath
	if path == "" {
		path = store.DefaultPath()
	}
	home := filepath.Dir(path)

	if err := logging.Initialize(home); err != nil {
		logger.Warn("category logging unavailable", zap.Error(err))
	}
	defer logging.CloseAll()

	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", zap.String("path", path))

	org, err := config.Load(orgfilePath, st)
	if err != nil {
		return fmt.Errorf("load orgfile: %w", err)
	}

	engineCfg := engine.Config{}
	chairmanModel := ""
	if org != nil {
		if org.Settings.WindowTimeoutMS > 0 {
			engineCfg.WindowTimeout = time.Duration(org.Settings.WindowTimeoutMS) * time.Millisecond
		}
		engineCfg.Authority = org.Settings.Authority
		chairmanModel = org.Settings.ChairmanModel
	}

	log := eventlog.New(st)
	gate := permission.NewGate(st)
	kb := knowledge.NewBase(st)
	factory := &engine.StoreFactory{Keys: st, ChairmanModel: chairmanModel}

	eng := engine.New(log, st, st, kb, tools.DefaultRegistry(), gate, factory, engineCfg)
	if err := eng.RefreshAgents(); err != nil {
		return fmt.Errorf("initialize agents: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watcher, err := config.NewWatcher(orgfilePath, st, func(*config.Orgfile) {
		if err := eng.RefreshAgents(); err != nil {
			logger.Warn("agent refresh after orgfile reload failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("orgfile watcher unavailable", zap.Error(err))
	} else {
		if err := watcher.Start(watchCtx); err != nil {
			logger.Warn("orgfile watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := &server.Handler{Engine: eng, Knowledge: kb, Keys: st, Settings: st}
	srv := &http.Server{Addr: listenAddr, Handler: server.New(handler)}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: $CONDUIT_DATABASE_PATH or ~/.llm-conduit/conduit.db)")
	rootCmd.PersistentFlags().StringVar(&orgfilePath, "orgfile", config.DefaultOrgfileName, "orgfile path")
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8787", "HTTP listen address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
