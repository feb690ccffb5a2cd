package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/GoCodeAlone/tenancy/provision"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/tenant"
	"github.com/GoCodeAlone/tenancy/user"
)

type demoTenant struct {
	name      string
	subdomain string
	plan      store.PlanType
}

var demoTenants = []demoTenant{
	{"Acme Corporation", "acme", store.PlanPremium},
	{"TechStart Inc", "techstart", store.PlanBasic},
	{"Small Business", "smallbiz", store.PlanFree},
}

type demoUser struct {
	local    string
	name     string
	role     store.UserRole
	password string
}

var demoUsers = []demoUser{
	{"admin", "Admin User", store.RoleAdmin, "admin123"},
	{"john", "John Doe", store.RoleUser, "user123"},
	{"jane", "Jane Smith", store.RoleModerator, "user123"},
}

func runSeed(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openApp(ctx, *cfgPath, false)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	for _, dt := range demoTenants {
		res, err := app.Provisioner.Provision(ctx, provision.Request{
			Name:      dt.name,
			Subdomain: dt.subdomain,
			PlanType:  dt.plan,
			CreatedBy: "seed_script",
		})
		if errors.Is(err, store.ErrConflict) {
			fmt.Fprintf(out, "tenant %s exists, skipping\n", dt.subdomain)
			continue
		}
		if err != nil {
			return err
		}
		t := res.Tenant
		if _, _, err := app.Tenants.Update(ctx, t.ID, tenant.Patch{
			Settings: store.Settings{"onboarding_completed": true},
		}, app.Config.TenantTarget()); err != nil {
			return err
		}
		printProvisioned(out, res)

		for _, du := range demoUsers {
			u, _, err := app.Users.Create(ctx, user.CreateInput{
				TenantID:      t.ID,
				Name:          du.name,
				Email:         fmt.Sprintf("%s@%s.com", du.local, dt.subdomain),
				Password:      du.password,
				Role:          du.role,
				Status:        store.UserStatusActive,
				EmailVerified: true,
			}, app.UserTarget())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  user %s (%s)\n", u.Email, u.Role)
		}
	}

	fmt.Fprintln(out, "\nLogin credentials:")
	fmt.Fprintln(out, "  admin@<subdomain>.com / admin123 (admin)")
	fmt.Fprintln(out, "  john@<subdomain>.com / user123 (user)")
	fmt.Fprintln(out, "  jane@<subdomain>.com / user123 (moderator)")
	return nil
}
