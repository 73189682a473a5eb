package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpungsan/tcap/internal/api"
	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/db"
	"github.com/hpungsan/tcap/internal/identity"
	"github.com/hpungsan/tcap/internal/mcp"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/session"
	"github.com/hpungsan/tcap/internal/upload"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"register": true, "verify": true, "resend-code": true,
	"login": true, "logout": true, "whoami": true,
	"list": true, "get": true, "create": true, "update": true, "delete": true,
	"serve": true,
	"help":  true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags come before the subcommand
	if arg == "--verbose" || arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _
  | |_ ___ __ _ _ __
  | __/ __/ _' | '_ \
  | || (_| (_| | |_) |
   \__\___\__,_| .__/
               |_|

  Messages to the future, delivered by email

  Usage: tcap <command> [options]
         tcap serve        open the dashboard
         tcap --help

  MCP server mode requires piped input.`)
}

// runtime holds the wired dependencies every command shares.
type runtime struct {
	cfg      *config.Config
	sessions *session.Manager
	deps     ops.Deps
	logger   *slog.Logger
	level    *slog.LevelVar
}

// newLogger returns a text logger on w at warn level. The level is raised by --verbose.
func newLogger(w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), level
}

func newRuntime(cfg *config.Config, provider identity.Provider, logger *slog.Logger, level *slog.LevelVar) *runtime {
	sessions := session.New(provider, session.Options{
		CheckTimeout: cfg.SessionCheckTimeout(),
		Logger:       logger,
	})
	client := api.New(cfg.BaseURL(), sessions, api.WithLogger(logger))
	return &runtime{
		cfg:      cfg,
		sessions: sessions,
		deps: ops.Deps{
			Backend:  client,
			Uploader: upload.NewUploader(client, cfg.S3Bucket, logger),
			Logger:   logger,
		},
		logger: logger,
		level:  level,
	}
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before config and DB (neither is needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".tcap")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Nothing may talk to the backend with an incomplete deployment config
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(1)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	logger, level := newLogger(os.Stderr)
	provider := identity.NewCognito(cfg.ResolvedRegion(), cfg.ClientID, database, logger)
	rt := newRuntime(cfg, provider, logger, level)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(rt)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tcap --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tool names in disabled_tools", "tools", unknown)
	}

	// MCP server mode (default)
	if err := mcp.Run(rt.sessions, rt.deps, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
