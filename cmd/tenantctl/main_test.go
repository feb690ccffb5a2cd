package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/tenancy/store"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tenancy.yaml")
	cfg := fmt.Sprintf(`
relational:
  driver: sqlite
  dsn: %q
document:
  uri: "memory://"
auth:
  bcrypt_cost: 4
log:
  level: error
`, filepath.Join(dir, "main.db"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, fn func(context.Context, []string, *bytes.Buffer) error, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := fn(context.Background(), args, &out)
	return out.String(), err
}

func migrate(ctx context.Context, args []string, out *bytes.Buffer) error { return runMigrate(ctx, args, out) }
func seed(ctx context.Context, args []string, out *bytes.Buffer) error    { return runSeed(ctx, args, out) }
func prov(ctx context.Context, args []string, out *bytes.Buffer) error    { return runProvision(ctx, args, out) }

func TestSeed(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, seed, "-config", cfg)
	require.NoError(t, err)
	for _, want := range []string{
		`"Acme Corporation" (acme)`, "premium plan",
		"techstart", "basic plan",
		"smallbiz", "free plan",
		"admin@acme.com (admin)", "john@techstart.com (user)", "jane@smallbiz.com (moderator)",
	} {
		assert.Contains(t, out, want)
	}

	out, err = run(t, seed, "-config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "tenant acme exists, skipping")
	assert.Equal(t, 3, strings.Count(out, "exists, skipping"))
}

func TestProvisionCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, prov, "-config", cfg, "-name", "Globex", "-subdomain", "Globex", "-plan", "enterprise")
	require.NoError(t, err)
	assert.Contains(t, out, `"Globex" (globex) created, database tenant_globex`)
	assert.Contains(t, out, fmt.Sprintf("max users %d", store.Unlimited))

	_, err = run(t, prov, "-config", cfg, "-name", "Again", "-subdomain", "globex")
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = run(t, prov, "-config", cfg, "-subdomain", "noname")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestMigrateCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, migrate, "up", "-config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "relational global: applied 3 migration(s)")
	assert.NotContains(t, out, "document", "memory documents are not migrated")

	out, err = run(t, migrate, "status", "-config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "001_create_tenants_table")
	assert.Equal(t, 3, strings.Count(out, "applied"))

	out, err = run(t, migrate, "down", "-config", cfg, "-steps", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back 1 migration(s)")
	assert.Contains(t, out, "- 003_create_subscriptions_table")

	out, err = run(t, migrate, "status", "-config", cfg, "-target", "relational")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	out, err = run(t, migrate, "up", "-config", cfg, "-tenant", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "relational tenant:7: applied 3 migration(s)")
}

func TestMigrateCommandErrors(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := run(t, migrate)
	assert.ErrorContains(t, err, "subcommand required")

	_, err = run(t, migrate, "sideways", "-config", cfg)
	assert.ErrorContains(t, err, "unknown migrate subcommand")

	_, err = run(t, migrate, "down", "-config", cfg, "-steps", "0")
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = run(t, migrate, "up", "-config", cfg, "-target", "tape")
	assert.ErrorIs(t, err, store.ErrValidation)
}
