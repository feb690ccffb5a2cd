package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/GoCodeAlone/tenancy/provision"
	"github.com/GoCodeAlone/tenancy/store"
)

func runProvision(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	name := fs.String("name", "", "Tenant display name (required)")
	subdomain := fs.String("subdomain", "", "Tenant subdomain (required)")
	plan := fs.String("plan", "", "Plan: free, basic, premium or enterprise (default from config)")
	cycle := fs.String("cycle", "", "Billing cycle: monthly or yearly (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openApp(ctx, *cfgPath, false)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	res, err := app.Provisioner.Provision(ctx, provision.Request{
		Name:         *name,
		Subdomain:    *subdomain,
		PlanType:     store.PlanType(*plan),
		BillingCycle: store.BillingCycle(*cycle),
		CreatedBy:    "tenantctl",
	})
	if err != nil {
		return err
	}
	printProvisioned(out, res)
	return nil
}

func printProvisioned(out io.Writer, res *provision.Result) {
	fmt.Fprintf(out, "tenant %d %q (%s) created, database %s\n",
		res.Tenant.ID, res.Tenant.Name, res.Tenant.Subdomain, res.Tenant.DatabaseName)
	if res.Subscription != nil {
		fmt.Fprintf(out, "  subscription %d: %s plan, %s, max users %d\n",
			res.Subscription.ID, res.Subscription.PlanType, res.Subscription.BillingCycle, res.Subscription.MaxUsers)
	}
	if res.Writes.Degraded() {
		fmt.Fprintf(out, "  warning: secondary writes failed: %v\n", res.Writes.Err())
	}
}
