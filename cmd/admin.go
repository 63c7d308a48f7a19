// Package cmd provides the offline administration commands of ARA.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"ara/api"
	"ara/authz"
	"ara/bootstrap"
	"ara/config"
	"ara/core"
	"ara/service"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for admin commands
var (
	outputJSON bool
	dbPath     string
	noColor    bool
	quiet      bool
)

const defaultTimeout = 2 * time.Minute

// cliLogin identifies the command line in service logs. It acts as a super admin.
const cliLogin = "ara-cli"

// NewAdminCmd creates the root admin command with all subcommands.
func NewAdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer an ARA database",
		Long: `Administer projects and users directly on the SQLite database.

The commands act as a super admin and do not need the API server to run.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	adminCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	adminCmd.PersistentFlags().StringVar(&dbPath, "db", bootstrap.DefaultDataDirectories().SQLite, "SQLite database path")
	adminCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	adminCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	adminCmd.AddCommand(newProjectsCmd())
	adminCmd.AddCommand(newUsersCmd())
	adminCmd.AddCommand(newMatchCmd())

	return adminCmd
}

// adminEnv is an opened database with its services
type adminEnv struct {
	stores   *bootstrap.StorageComponents
	services api.Services
}

// openAdminEnv opens the database at dbPath. The returned cleanup closes it.
func openAdminEnv() (*adminEnv, func(), error) {
	logger := zap.NewNop().Sugar()
	dirs := bootstrap.DataDirectories{Base: "", SQLite: dbPath}

	sqlite, err := bootstrap.InitSQLite(dirs, logger)
	if err != nil {
		return nil, nil, err
	}
	stores, err := bootstrap.InitStorage(sqlite, logger)
	if err != nil {
		_ = sqlite.Close()
		return nil, nil, err
	}

	setup, _ := service.LoadProviderSetup("")
	cfg := &config.Config{}
	cfg.Problems.AutoAssignOnImport = true

	env := &adminEnv{stores: stores, services: bootstrap.NewServices(stores, setup, cfg, logger)}
	return env, func() { _ = sqlite.Close() }, nil
}

// cliPrincipal is the super admin identity the commands run as
func cliPrincipal(provider string) *authz.Principal {
	p := authz.NewPrincipal(&core.User{Login: cliLogin, ProviderName: provider, Profile: core.ProfileSuperAdmin})
	return &p
}

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectsListCmd())
	cmd.AddCommand(newProjectsCreateCmd())
	return cmd
}

func newProjectsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			env, cleanup, err := openAdminEnv()
			if err != nil {
				return err
			}
			defer cleanup()

			projects, err := env.services.Users.CurrentUserProjects(ctx, cliPrincipal(config.LocalProviderName))
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}

			if outputJSON {
				return outputAsJSON(projects)
			}
			renderProjectsTable(projects)
			return nil
		},
	}
}

func newProjectsCreateCmd() *cobra.Command {
	var defaultAtStartup bool

	cmd := &cobra.Command{
		Use:   "create <code> <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			env, cleanup, err := openAdminEnv()
			if err != nil {
				return err
			}
			defer cleanup()

			project, err := env.services.Projects.Create(ctx, &core.Project{
				Code:             args[0],
				Name:             args[1],
				DefaultAtStartup: defaultAtStartup,
			})
			if err != nil {
				return fmt.Errorf("failed to create project: %w", err)
			}

			if outputJSON {
				return outputAsJSON(project)
			}
			if !quiet {
				successColor.Printf("✓ Project %s created (ID %d)\n", project.Code, project.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&defaultAtStartup, "default", false, "Show this project by default after login")
	return cmd
}

func newUsersCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user profiles and scopes",
	}
	cmd.PersistentFlags().StringVar(&provider, "provider", config.LocalProviderName, "Login provider of the users")

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the users of a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsers(provider, func(ctx context.Context, users api.UserScopeService, p *authz.Principal) error {
				list, err := users.ListUsers(ctx, p)
				if err != nil {
					return fmt.Errorf("failed to list users: %w", err)
				}
				if outputJSON {
					return outputAsJSON(list)
				}
				renderUsersTable(list)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-profile <login> <profile>",
		Short: "Change the profile of a user (SUPER_ADMIN, AUDITOR or SCOPED_USER)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, ok := core.ParseUserProfile(args[1])
			if !ok {
				return fmt.Errorf("unknown profile %q: use SUPER_ADMIN, AUDITOR or SCOPED_USER", args[1])
			}
			return withUsers(provider, func(ctx context.Context, users api.UserScopeService, p *authz.Principal) error {
				user, err := users.UpdateUserProfile(ctx, p, args[0], profile)
				return reportUser(user, err, fmt.Sprintf("Profile of %s set to %s", args[0], profile))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "grant <login> <project> <role>",
		Short: "Grant a scope (ADMIN, MAINTAINER or MEMBER) on a project",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := core.ScopeRole(strings.ToUpper(args[2]))
			return withUsers(provider, func(ctx context.Context, users api.UserScopeService, p *authz.Principal) error {
				user, err := users.UpdateUserScope(ctx, p, args[0], args[1], role)
				return reportUser(user, err, fmt.Sprintf("%s is now %s of %s", args[0], role, args[1]))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <login> <project>",
		Short: "Remove the scope of a user on a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsers(provider, func(ctx context.Context, users api.UserScopeService, p *authz.Principal) error {
				user, err := users.RemoveUserScope(ctx, p, args[0], args[1])
				return reportUser(user, err, fmt.Sprintf("Scope of %s on %s removed", args[0], args[1]))
			})
		},
	})

	return cmd
}

// withUsers opens the database and runs fn as the CLI principal of provider
func withUsers(provider string, fn func(ctx context.Context, users api.UserScopeService, p *authz.Principal) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	env, cleanup, err := openAdminEnv()
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, env.services.Users, cliPrincipal(provider))
}

func reportUser(user *core.User, err error, message string) error {
	if err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(user)
	}
	if !quiet {
		successColor.Printf("✓ %s\n", message)
	}
	return nil
}

// newMatchCmd counts the errors a pattern would match, the way the problem screen previews it
func newMatchCmd() *cobra.Command {
	var (
		pattern      core.ProblemPattern
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "match <project>",
		Short: "Count the errors matching a problem pattern",
		Long: `Count the errors of a project matching a problem pattern.

Text criteria match exactly unless their --*-starts-with flag is set. The exception
criterion matches anywhere in the exception. Criteria are combined with AND.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			env, cleanup, err := openAdminEnv()
			if err != nil {
				return err
			}
			defer cleanup()

			project, err := env.services.Projects.FindByCode(ctx, args[0])
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Matching errors..."
				s.Start()
			}

			count, err := env.services.Problems.CountMatchingErrors(ctx, project.ID, &pattern)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("failed to match errors: %w", err)
			}

			if outputJSON {
				return outputAsJSON(map[string]int64{"count": count})
			}
			if count == 0 {
				warningColor.Printf("No error of %s matches\n", project.Code)
			} else {
				infoColor.Printf("%d errors of %s match\n", count, project.Code)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&pattern.FeatureFile, "feature-file", "", "Feature file")
	f.StringVar(&pattern.FeatureName, "feature-name", "", "Feature name")
	f.StringVar(&pattern.ScenarioName, "scenario", "", "Scenario name")
	f.BoolVar(&pattern.ScenarioNameStartsWith, "scenario-starts-with", false, "Match scenario names by prefix")
	f.StringVar(&pattern.Step, "step", "", "Step")
	f.BoolVar(&pattern.StepStartsWith, "step-starts-with", false, "Match steps by prefix")
	f.StringVar(&pattern.StepDefinition, "step-definition", "", "Step definition")
	f.BoolVar(&pattern.StepDefinitionStartsWith, "step-definition-starts-with", false, "Match step definitions by prefix")
	f.StringVar(&pattern.Exception, "exception", "", "Text contained in the exception")
	f.StringVar(&pattern.Release, "release", "", "Release")
	f.StringVar(&pattern.CountryCode, "country", "", "Country code")
	f.StringVar(&pattern.TypeCode, "type", "", "Type code")
	f.StringVar(&pattern.Platform, "platform", "", "Platform")
	f.BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

// outputAsJSON writes v as indented JSON to stdout
func outputAsJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// PrintError reports a command failure on stderr
func PrintError(err error) {
	errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
}
