// Command tenantctl runs schema migrations, provisions tenants and seeds demo
// data against the configured stores.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GoCodeAlone/tenancy/config"
	"github.com/GoCodeAlone/tenancy/setup"
)

var version = "dev"

var commands = map[string]func(ctx context.Context, args []string, out io.Writer) error{
	"migrate":   runMigrate,
	"provision": runProvision,
	"seed":      runSeed,
}

func usage() {
	fmt.Fprintf(os.Stderr, `tenantctl - tenancy administration CLI (version %s)

Usage:
  tenantctl <command> [options]

Commands:
  migrate    Apply, roll back or list schema migrations (up, down, status)
  provision  Create a tenant with its databases, schema and subscription
  seed       Create the demo tenants and users

Every command accepts -config <file>; environment variables override it.
Run 'tenantctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	case "-v", "--version", "version":
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err := fn(context.Background(), os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openApp loads the configuration at path and connects the stores. Global
// migrations are applied unless skipMigrate is set.
func openApp(ctx context.Context, path string, skipMigrate bool) (*setup.App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := config.ParseLevel(cfg.Log.Level)
	var lv slog.LevelVar
	lv.Set(level)
	logger := cfg.NewLogger(os.Stderr, &lv)

	app, err := setup.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if !skipMigrate {
		if _, err := app.Migrate(ctx); err != nil {
			_ = app.Close(context.Background())
			return nil, err
		}
	}
	return app, nil
}

// configFlag registers the shared -config flag.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv("TENANCY_CONFIG"), "Path to YAML configuration file")
}
