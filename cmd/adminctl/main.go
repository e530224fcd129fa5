package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/admin-rbac/internal/app"
	"github.com/jwalitptl/admin-rbac/internal/config"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository/postgres"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
)

// cliOrigin marks audit records written by operator commands.
const cliOrigin = "cli"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "adminctl",
		Short:         "Operator tooling for roles, assignments and the audit log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openApp wires the services from configuration. Logs go to stderr so that
// command output on stdout stays machine readable.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		Format:     cfg.Log.Format,
		TimeFormat: time.RFC3339,
		Output:     os.Stderr,
	})
	return app.New(ctx, cfg, log)
}

func withApp(fn func(cmd *cobra.Command, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			if a.DB == nil {
				return errors.New("migrate requires storage.driver postgres")
			}
			if err := postgres.Migrate(cmd.Context(), a.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		}),
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the baseline roles that do not exist yet",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			report, err := a.Roles.Seed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		}),
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var req model.CreateUserRequest
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user with an initial role, e.g. the first super_admin",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			user, err := a.Admin.CreateUser(cmd.Context(), model.SystemActor(cliOrigin), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, user)
		}),
	}
	createCmd.Flags().StringVar(&req.Name, "name", "", "display name")
	createCmd.Flags().StringVar(&req.Email, "email", "", "email address")
	createCmd.Flags().StringVar(&req.Password, "password", "", "initial password")
	createCmd.Flags().StringVar(&req.Role, "role", permission.RolePatient, "initial role")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")

	cmd.AddCommand(createCmd)
	return cmd
}

func grantCmd() *cobra.Command {
	var userID, roleRef string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Assign a role to a user",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			assignment, err := a.Admin.AssignRole(cmd.Context(), model.SystemActor(cliOrigin), id, roleRef)
			if err != nil {
				return err
			}
			return printJSON(cmd, assignment)
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&roleRef, "role", "", "role name or id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func revokeCmd() *cobra.Command {
	var userID, roleRef string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Withdraw a role from a user",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			if err := a.Admin.RevokeRole(cmd.Context(), model.SystemActor(cliOrigin), id, roleRef); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", roleRef, id)
			return nil
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&roleRef, "role", "", "role name or id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func checkCmd() *cobra.Command {
	var userID string
	var perms []string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Print the authorization decision for a user and permissions",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			required, err := a.Catalog.ValidateStrings(perms)
			if err != nil {
				return err
			}
			decision, err := a.Engine.Authorize(cmd.Context(), id, permission.NewSet(required...))
			if err != nil {
				return err
			}
			return printJSON(cmd, decision)
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission, repeatable; any one suffices")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("perm")
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		userID       string
		resourceType string
		resourceID   string
		page         int
		pageSize     int
		follow       bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print audit records by actor or by resource",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			if follow {
				return followAudit(cmd, a)
			}

			p := model.Pagination{Page: page, PageSize: pageSize}
			var (
				result *model.AuditPage
				err    error
			)
			switch {
			case userID != "":
				id, perr := uuid.Parse(userID)
				if perr != nil {
					return fmt.Errorf("invalid --user: %w", perr)
				}
				result, err = a.Auditor.QueryByUser(cmd.Context(), id, p)
			case resourceType != "":
				result, err = a.Auditor.QueryByResource(cmd.Context(), resourceType, resourceID, p)
			default:
				result, err = a.Auditor.QueryAll(cmd.Context(), model.AuditFilter{}, p)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "actor user id")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "resource type, with --resource-id")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "resource id")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "records per page")
	cmd.Flags().BoolVar(&follow, "follow", false, "stream records as they are published")
	cmd.MarkFlagsMutuallyExclusive("user", "resource-type")
	cmd.MarkFlagsRequiredTogether("resource-type", "resource-id")
	return cmd
}

// followAudit prints records from the broker channel until interrupted.
func followAudit(cmd *cobra.Command, a *app.App) error {
	if a.Broker == nil {
		return errors.New("--follow requires audit.publish to be enabled")
	}
	msgs, err := a.Broker.Subscribe(cmd.Context(), a.Config.Audit.Channel)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for msg := range msgs {
		fmt.Fprintln(out, string(msg))
	}
	return nil
}

func tokenCmd() *cobra.Command {
	var userID, email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user, for local testing",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			token, err := a.Tokens.Generate(id, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
