package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/GoCodeAlone/tenancy/store"
)

func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	tenantID := fs.Int64("tenant", 0, "Tenant ID; 0 targets the global databases")
	targetName := fs.String("target", "both", "Backends: relational, document or both")
	steps := fs.Int("steps", 1, "Number of units to roll back (down only)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: tenantctl migrate <up|down|status> [options]

Subcommands:
  up        Apply pending migrations
  down      Roll back the most recent migrations
  status    List every unit and whether it is applied

Examples:
  tenantctl migrate up
  tenantctl migrate up -tenant 12 -target relational
  tenantctl migrate down -tenant 12 -steps 2
  tenantctl migrate status -target document

Options:
`)
		fs.PrintDefaults()
	}

	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("subcommand required: up, down or status")
	}
	sub := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	switch sub {
	case "up", "down", "status":
	default:
		fs.Usage()
		return fmt.Errorf("unknown migrate subcommand %q", sub)
	}
	target, err := store.ParseTarget(*targetName)
	if err != nil {
		return err
	}
	if sub == "down" && *steps < 1 {
		return store.Validationf("steps must be at least 1, got %d", *steps)
	}

	app, err := openApp(ctx, *cfgPath, true)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	scope := store.ForTenant(*tenantID)
	target = app.MigrationTarget(target)
	for _, b := range target.Backends() {
		switch sub {
		case "up":
			applied, err := app.Migrations.Run(ctx, b, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s: applied %d migration(s)\n", b, scope, len(applied))
			for _, name := range applied {
				fmt.Fprintf(out, "  + %s\n", name)
			}
		case "down":
			reverted, err := app.Migrations.Rollback(ctx, b, scope, *steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s: rolled back %d migration(s)\n", b, scope, len(reverted))
			for _, name := range reverted {
				fmt.Fprintf(out, "  - %s\n", name)
			}
		case "status":
			status, err := app.Migrations.Status(ctx, b, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s:\n", b, scope)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "  NAME\tSTATE\tBATCH\tEXECUTED")
			for _, s := range status {
				state, executed := "pending", "-"
				switch {
				case s.Orphaned:
					state = "orphaned"
				case s.Applied:
					state = "applied"
				}
				if s.ExecutedAt != nil {
					executed = s.ExecutedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", s.Name, state, s.Batch, executed)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}
