// Command verdeling-admin manages tenants and user accounts.
//
//	verdeling-admin tenant list
//	verdeling-admin tenant add -name Atelier -spaces "Atelier,Kelder" -color "#2f6f4f" -order 1
//	verdeling-admin tenant delete -id <id>
//	verdeling-admin user add -email a@b.be -password ... -role tenant -tenant <id>
//	verdeling-admin user list
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"verdeling/internal/auth"
	"verdeling/internal/backend"
	"verdeling/internal/cli"
	"verdeling/internal/core"
	applog "verdeling/internal/log"
	"verdeling/internal/ports"
	"verdeling/internal/services"
)

const usage = `usage: verdeling-admin <command> <subcommand> [flags]

commands:
  tenant list
  tenant add     -name NAME -spaces "A,B" [-color HEX] [-order N]
  tenant delete  -id ID
  user add       -email EMAIL -password PASSWORD [-name NAME] [-role admin|tenant] [-tenant ID]
  user list
`

var errUsage = errors.New("invalid usage")

type admin struct {
	store   ports.Store
	tenants *services.TenantService
	auth    *auth.Provider
	out     io.Writer
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentAdmin)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	}()

	a := newAdmin(be, cfg.JWTSecret, cfg.SessionTTL, os.Stdout)
	if err := a.run(ctx, os.Args[1], os.Args[2], os.Args[3:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		logger.Error("Command failed", "command", os.Args[1]+" "+os.Args[2], "error", err)
		os.Exit(1)
	}
}

func newAdmin(be *backend.BackendResult, secret string, ttl time.Duration, out io.Writer) *admin {
	return &admin{
		store:   be.Store,
		tenants: services.NewTenantService(be.Store, nil),
		auth:    auth.NewProvider(be.Store, secret, ttl),
		out:     out,
	}
}

func (a *admin) run(ctx context.Context, cmd, sub string, args []string) error {
	switch cmd + " " + sub {
	case "tenant list":
		return a.listTenants(ctx)
	case "tenant add":
		return a.addTenant(ctx, args)
	case "tenant delete":
		return a.deleteTenant(ctx, args)
	case "user add":
		return a.addUser(ctx, args)
	case "user list":
		return a.listUsers(ctx)
	default:
		return errUsage
	}
}

func (a *admin) listTenants(ctx context.Context) error {
	tenants, err := a.tenants.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSLUG\tORDER\tCOLOR\tSPACES")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", t.ID, t.Name, t.Slug, t.SortOrder, t.Color, strings.Join(t.Spaces, ", "))
	}
	return tw.Flush()
}

func (a *admin) addTenant(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tenant add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "tenant name")
	spaces := fs.String("spaces", "", "comma separated sub-meter spaces")
	color := fs.String("color", "", "display color")
	order := fs.Int("order", 0, "sort order, 0 sorts last")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	t := core.Tenant{
		Name:      *name,
		Color:     *color,
		SortOrder: *order,
		Spaces:    splitList(*spaces),
	}
	if err := t.Validate(); err != nil {
		return err
	}
	created, err := a.tenants.Create(ctx, t)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created tenant %s (%s)\n", created.Name, created.ID)
	return nil
}

func (a *admin) deleteTenant(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tenant delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "tenant id")
	if err := fs.Parse(args); err != nil || *id == "" {
		return errUsage
	}
	if err := a.tenants.Delete(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted tenant %s\n", *id)
	return nil
}

func (a *admin) addUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("user add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "login email")
	password := fs.String("password", "", "initial password")
	name := fs.String("name", "", "display name")
	role := fs.String("role", string(core.RoleTenant), "admin or tenant")
	tenantID := fs.String("tenant", "", "tenant id for tenant users")
	if err := fs.Parse(args); err != nil || *email == "" {
		return errUsage
	}

	p := core.Profile{
		DisplayName: strings.TrimSpace(*name),
		Role:        core.Role(*role),
	}
	if *tenantID != "" {
		if _, err := a.store.GetTenant(ctx, *tenantID); err != nil {
			return fmt.Errorf("tenant %s: %w", *tenantID, err)
		}
		p.TenantID = tenantID
	}
	if err := p.Validate(); err != nil {
		return err
	}

	u, err := a.auth.Register(ctx, *email, *password)
	if err != nil {
		return err
	}
	p.UserID = u.ID
	p.Email = u.Email
	if err := a.store.UpsertProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	fmt.Fprintf(a.out, "created %s user %s (%s)\n", p.Role, u.Email, u.ID)
	return nil
}

func (a *admin) listUsers(ctx context.Context) error {
	profiles, err := a.store.ListProfiles(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tEMAIL\tNAME\tROLE\tTENANT")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.UserID, p.Email, p.DisplayName, p.Role, core.StrVal(p.TenantID))
	}
	return tw.Flush()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
