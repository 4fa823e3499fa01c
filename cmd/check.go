package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ScottHMcKean/market-intelligence-app/internal/app"
)

// runCheck reports the health of every dependency: workspace identity,
// instance state, credential issuance, and database reachability. Each
// line is printed as it is probed so a hang points at the culprit.
func runCheck(ctx context.Context, a *app.App, w io.Writer) error {
	principal, err := a.Workspace.CurrentPrincipal(ctx)
	if err != nil {
		fmt.Fprintf(w, "workspace:  unreachable (%v)\n", err)
		return err
	}
	fmt.Fprintf(w, "workspace:  ok (principal %s)\n", principal.ID)

	if a.Config.InstanceName == "" {
		fmt.Fprintln(w, "database:   not configured")
		return nil
	}

	inst, err := a.Workspace.GetInstance(ctx, a.Config.InstanceName)
	if err != nil {
		fmt.Fprintf(w, "instance:   lookup failed (%v)\n", err)
		return err
	}
	fmt.Fprintf(w, "instance:   %s (%s)\n", inst.Name, inst.State)

	cred, err := a.Credentials.Credential(ctx)
	if err != nil {
		fmt.Fprintf(w, "credential: issuance failed (%v)\n", err)
		return err
	}
	fmt.Fprintf(w, "credential: ok (user %s, expires in %s)\n",
		cred.Username, time.Until(cred.ExpiresAt).Round(time.Second))

	if !a.Available() {
		fmt.Fprintln(w, "database:   unavailable")
		return fmt.Errorf("database not available")
	}
	if err := a.DB.Ping(ctx); err != nil {
		fmt.Fprintf(w, "database:   ping failed (%v)\n", err)
		return err
	}
	fmt.Fprintf(w, "database:   ok (%s)\n", a.Config.DatabaseName)
	return nil
}
