// ABOUTME: Maintenance CLI for the fold-storage subsystem
// ABOUTME: Connects, migrates, sweeps, and inspects the primary database

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"

	"github.com/2389/fold-storage/internal/cache"
	"github.com/2389/fold-storage/internal/config"
	"github.com/2389/fold-storage/internal/migrate"
	"github.com/2389/fold-storage/internal/plugin"
	"github.com/2389/fold-storage/internal/schema"
	"github.com/2389/fold-storage/internal/storage"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __       _     _       _                       _   _
 / _| ___ | | __| |  ___| |_ ___  _ __ ___  ___| |_| |
| |_ / _ \| |/ _' | / __| __/ _ \| '__/ _ \/ __| __| |
|  _| (_) | | (_| | \__ \ || (_) | | |  __/ (__| |_| |
|_|  \___/|_|\__,_| |___/\__\___/|_|  \___|\___|\__|_|
`

// getConfigPath returns the path to the storage config file.
// Priority: FOLD_STORAGE_CONFIG env var > XDG_CONFIG_HOME/fold/storage.yaml > ~/.config/fold/storage.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FOLD_STORAGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "storage.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fold", "storage.yaml")
}

// loadConfig prefers the config file; FOLD_STORAGE_DB alone is enough for
// ad hoc use against a bare database path.
func loadConfig() (*config.Config, error) {
	if dbPath := os.Getenv("FOLD_STORAGE_DB"); dbPath != "" {
		return config.Default(dbPath), nil
	}

	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s (set FOLD_STORAGE_CONFIG or FOLD_STORAGE_DB): %w", path, err)
	}
	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}
	if cmd == "version" {
		fmt.Printf("fold-storectl %s\n", version)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Logging)

	ctx := context.Background()
	mgr := storage.NewManager(cfg.Database)
	if err := mgr.Connect(ctx); err != nil {
		// Connection failures abort: the host decides between degraded
		// mode and abort, and this tool always aborts.
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	runner := migrate.NewRunner(mgr, migrate.Declared())

	switch cmd {
	case "status":
		err = cmdStatus(ctx, mgr, runner)
	case "tables":
		err = cmdTables(ctx, mgr)
	case "migrate":
		err = cmdMigrate(ctx, runner)
	case "rollback":
		err = cmdRollback(ctx, runner, args)
	case "validate":
		err = cmdValidate(ctx, runner)
	case "vacuum":
		err = cmdVacuum(ctx, mgr)
	case "sweep":
		err = cmdSweep(ctx, cfg, mgr, args)
	case "plugins":
		err = cmdPlugins(ctx, cfg, mgr, args)
	case "settings":
		err = cmdSettings(ctx, mgr, args)
	case "repos":
		err = cmdRepos(ctx, mgr)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: fold-storectl <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                  Show connection and migration status")
	fmt.Println("  tables                  List tables with row counts")
	fmt.Println("  migrate                 Apply pending schema migrations")
	fmt.Println("  rollback <version>      Roll back migrations above <version>")
	fmt.Println("  validate                Verify migration integrity checksums")
	fmt.Println("  vacuum                  Reclaim space from deleted rows")
	fmt.Println("  sweep [--every <dur>]   Remove expired cache and plugin entries")
	fmt.Println("  plugins list            List private plugin databases")
	fmt.Println("  settings list           List host settings")
	fmt.Println("  settings get <key>      Show one setting")
	fmt.Println("  settings set <key> <v>  Set a setting")
	fmt.Println("  repos                   List registered repositories")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  FOLD_STORAGE_CONFIG     Config file path (default: ~/.config/fold/storage.yaml)")
	fmt.Println("  FOLD_STORAGE_DB         Primary database path; overrides the config file")
}

func cmdStatus(ctx context.Context, mgr *storage.Manager, runner *migrate.Runner) error {
	info, err := mgr.Info(ctx)
	if err != nil {
		return err
	}
	version, err := runner.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	pending, err := runner.Pending(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("Connected")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Path:\t%s\n", info.Path)
	fmt.Fprintf(w, "Journal mode:\t%s\n", info.JournalMode)
	fmt.Fprintf(w, "Page size:\t%d\n", info.PageSize)
	fmt.Fprintf(w, "File size:\t%d bytes\n", info.FileSize)
	fmt.Fprintf(w, "Schema version:\t%d\n", version)
	fmt.Fprintf(w, "Pending migrations:\t%d\n", len(pending))
	w.Flush()

	if len(pending) > 0 {
		color.Yellow("Run 'fold-storectl migrate' to apply pending migrations")
	}
	return nil
}

func cmdTables(ctx context.Context, mgr *storage.Manager) error {
	db, err := mgr.DB()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	for _, name := range schema.Tables {
		count, err := schema.TableRowCount(ctx, db, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", name, count)
	}
	return w.Flush()
}

func cmdMigrate(ctx context.Context, runner *migrate.Runner) error {
	pending, err := runner.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending migrations")
		return nil
	}

	if err := runner.Run(ctx); err != nil {
		return err
	}
	version, err := runner.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	color.Green("Applied %d migration(s), schema version is now %d\n", len(pending), version)
	return nil
}

func cmdRollback(ctx context.Context, runner *migrate.Runner, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rollback <version>")
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing target version %q: %w", args[0], err)
	}

	if err := runner.RollbackTo(ctx, target); err != nil {
		return err
	}
	color.Green("Rolled back to schema version %d\n", target)
	return nil
}

func cmdValidate(ctx context.Context, runner *migrate.Runner) error {
	if err := runner.Validate(ctx); err != nil {
		return err
	}
	color.Green("Migration records match declared migrations")
	return nil
}

func cmdVacuum(ctx context.Context, mgr *storage.Manager) error {
	before, err := mgr.FileSize()
	if err != nil {
		return err
	}
	if err := mgr.Vacuum(ctx); err != nil {
		return err
	}
	after, err := mgr.FileSize()
	if err != nil {
		return err
	}
	color.Green("Vacuumed: %d -> %d bytes\n", before, after)
	return nil
}

// cmdSweep removes expired cache and plugin entries. With --every it keeps
// running on a schedule until interrupted; the storage core owns no timer,
// so the scheduling lives here.
func cmdSweep(ctx context.Context, cfg *config.Config, mgr *storage.Manager, args []string) error {
	cm := cache.NewManager(mgr, cfg.Cache)
	ps := plugin.NewStore(mgr, cfg.Plugins.DataDir)
	defer ps.CloseAll()

	sweep := func() {
		// Sweep failures degrade: log and keep the process alive.
		cacheRemoved, err := cm.RunCleanup(ctx)
		if err != nil {
			slog.Error("cache sweep failed", "error", err)
		}
		pluginRemoved, err := ps.CleanupExpired(ctx)
		if err != nil {
			slog.Error("plugin data sweep failed", "error", err)
		}
		fmt.Printf("swept %d cache entries, %d plugin entries\n", cacheRemoved, pluginRemoved)
	}

	var every time.Duration
	if len(args) >= 2 && args[0] == "--every" {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parsing --every %q: %w", args[1], err)
		}
		every = d
	}

	if every == 0 {
		sweep()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), sweep); err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	c.Start()
	defer c.Stop()

	color.Cyan("Sweeping every %s, Ctrl-C to stop\n", every)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")
	return nil
}

func cmdPlugins(ctx context.Context, cfg *config.Config, mgr *storage.Manager, args []string) error {
	if len(args) > 0 && args[0] != "list" {
		return fmt.Errorf("usage: plugins list")
	}

	ps := plugin.NewStore(mgr, cfg.Plugins.DataDir)
	defer ps.CloseAll()

	ids, err := ps.ListDatabases(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No private plugin databases")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tFILE\tSIZE\tCREATED")
	for _, id := range ids {
		info, err := ps.DatabaseInfo(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			info.PluginID, info.Filename, info.FileSize,
			info.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdSettings(ctx context.Context, mgr *storage.Manager, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list":
		settings, err := mgr.ListSettings(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
		for _, s := range settings {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Value, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: settings get <key>")
		}
		value, err := mgr.GetSetting(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: settings set <key> <value>")
		}
		return mgr.SetSetting(ctx, args[1], args[2])
	default:
		return fmt.Errorf("usage: settings [list|get|set]")
	}
}

func cmdRepos(ctx context.Context, mgr *storage.Manager) error {
	repos, err := mgr.ListRepositories(ctx)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		fmt.Println("No repositories registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH\tLAST OPENED")
	for _, r := range repos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Path, r.LastOpenedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
