package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caseconnect/casa-cli/internal/config"
	"github.com/caseconnect/casa-cli/pkg/clients/casaclient"
	"github.com/caseconnect/casa-cli/pkg/core/authz"
	"github.com/caseconnect/casa-cli/pkg/core/board"
	"github.com/caseconnect/casa-cli/pkg/core/model"
	"github.com/caseconnect/casa-cli/pkg/core/pipeline"
	"github.com/caseconnect/casa-cli/pkg/core/services"
	"github.com/caseconnect/casa-cli/pkg/core/session"
	"github.com/caseconnect/casa-cli/pkg/utils/logging"
)

// App holds the application dependencies
type App struct {
	cfg        *config.Config
	client     *casaclient.Client
	sessions   *session.Store
	controller *pipeline.Controller
	evaluator  *authz.Evaluator
	bindings   board.ActionBindings
	logger     *zap.Logger
	ctx        context.Context
}

var (
	env string
	app *App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "casa",
		Short: "CASA CLI - Manage the volunteer onboarding pipeline",
		Long:  `A CLI tool for the CASA volunteer onboarding pipeline: sign in, review the board, and move volunteers through background checks, training, and approval.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil && app.logger != nil {
				app.logger.Sync()
			}
		},
	}

	// Add persistent environment flag
	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment suffix for config files (e.g. test, prod)")

	// Add all commands
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(switchOrgCmd())
	rootCmd.AddCommand(volunteersCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(actionCommands()...)
	rootCmd.AddCommand(renewalsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, clients, and the session store
func initApp() error {
	var err error
	app = &App{
		ctx: context.Background(),
	}

	// Initialize logger
	app.logger, err = logging.InitLogger(env)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger.Info("Starting application", zap.String("environment", env))

	// Load configuration
	app.cfg, err = config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.logger.Debug("Configuration loaded successfully")

	cachePath, err := app.cfg.TokenCache()
	if err != nil {
		return fmt.Errorf("failed to resolve session cache path: %w", err)
	}

	// The session store and the backend client reference each other: the
	// client authenticates with tokens from the store, the store drives the
	// client's auth endpoints.
	app.sessions = session.NewStore(nil, cachePath, app.logger)
	app.client = casaclient.NewClient(app.cfg.BackendBaseURL, app.sessions, app.cfg.RequestTimeout(), app.logger)
	app.sessions.SetClient(app.client)
	app.sessions.LoadCache()

	app.controller = pipeline.NewController(app.client, app.sessions, app.logger)
	app.evaluator = authz.NewEvaluator(app.cfg.Matrix(), app.cfg.OperatorEmail)
	app.bindings = board.DefaultBindings()

	app.logger.Debug("Application initialized", zap.String("backend", app.cfg.BackendBaseURL))
	return nil
}

// Command definitions

func loginCmd() *cobra.Command {
	var email, password, orgID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.sessions.Login(app.ctx, session.Credentials{
				Email:          email,
				Password:       password,
				OrganizationID: orgID,
			})
			if err != nil {
				return err
			}

			if result.Challenge != nil {
				fmt.Print("Two-factor code: ")
				scanner := bufio.NewScanner(os.Stdin)
				if !scanner.Scan() {
					return fmt.Errorf("no two-factor code entered")
				}
				code := strings.TrimSpace(scanner.Text())
				if err := app.sessions.VerifyTwoFactor(app.ctx, code); err != nil {
					return err
				}
			}

			snap := app.sessions.Snapshot()
			fmt.Printf("\nSigned in as %s %s (%s)\n", snap.User.FirstName, snap.User.LastName, snap.User.Email)
			fmt.Printf("Organization: %s\n", snap.Organization.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().StringVar(&orgID, "org", "", "Organization id (optional)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the cached session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.sessions.Logout(app.ctx)
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := app.sessions.Snapshot()
			if snap.User == nil {
				fmt.Println("Not signed in.")
				return nil
			}

			fmt.Printf("User:         %s %s (%s)\n", snap.User.FirstName, snap.User.LastName, snap.User.Email)
			fmt.Printf("Roles:        %s\n", strings.Join(snap.User.Roles, ", "))
			fmt.Printf("Organization: %s (%s)\n", snap.Organization.Name, snap.Organization.ID)
			fmt.Printf("Token state:  %s\n", snap.TokenState)
			if len(snap.Organizations) > 1 {
				fmt.Println("\nAccessible organizations:")
				for _, org := range snap.Organizations {
					marker := " "
					if org.ID == snap.Organization.ID {
						marker = "*"
					}
					fmt.Printf("  %s %s (%s)\n", marker, org.Name, org.ID)
				}
			}
			return nil
		},
	}
}

func switchOrgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-org <organization_id>",
		Short: "Switch the session to another accessible organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.sessions.SwitchOrganization(app.ctx, args[0]); err != nil {
				return err
			}

			snap := app.sessions.Snapshot()
			fmt.Printf("Switched to %s. Previously loaded volunteer data is stale; reload the board.\n", snap.Organization.Name)
			return nil
		},
	}
}

func volunteersCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "volunteers",
		Short: "List volunteers, optionally filtered by pipeline status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := model.VolunteerStatus(status)
			if status != "" && !filter.IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}

			volunteers, err := app.client.ListVolunteers(app.ctx, filter)
			if err != nil {
				return err
			}

			fmt.Printf("\nFound %d volunteers:\n\n", len(volunteers))
			for _, v := range volunteers {
				extra := ""
				if v.RejectionReason != "" {
					extra = fmt.Sprintf(" [reason: %s]", v.RejectionReason)
				}
				fmt.Printf("- %s (%s) - %s - check: %s, training: %s%s\n",
					v.Name(), v.ID, v.VolunteerStatus, v.BackgroundCheckStatus, v.TrainingStatus, extra)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter to one pipeline status")

	return cmd
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show the pipeline board with the actions you may perform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			volunteers, err := app.client.ListVolunteers(app.ctx, "")
			if err != nil {
				return err
			}

			b := board.New(app.sessions.Epoch(), app.logger)
			b.SetVolunteers(volunteers)
			principal := app.sessions.Principal()

			for _, column := range b.Columns() {
				fmt.Printf("\n== %s (%d)\n", column.Status, len(column.Volunteers))
				for _, v := range column.Volunteers {
					fmt.Printf("  %s (%s)\n", v.Name(), v.ID)
					actions := board.AuthorizedActionsFor(model.StateOf(v), principal, app.evaluator, app.bindings)
					for _, a := range actions {
						fmt.Printf("    [%s] %s (%s)\n", a.Variant, a.Label, a.Action)
					}
				}
			}
			fmt.Println()
			return nil
		},
	}
}

// actionSpec describes one pipeline-action subcommand.
type actionSpec struct {
	use           string
	short         string
	action        pipeline.ActionKind
	requireReason bool
}

func actionCommands() []*cobra.Command {
	specs := []actionSpec{
		{"start-background-check <volunteer_id>", "Start a background check for an applicant", pipeline.ActionStartBackgroundCheck, false},
		{"approve-background-check <volunteer_id>", "Approve a volunteer's background check", pipeline.ActionApproveBackgroundCheck, false},
		{"fail-background-check <volunteer_id>", "Fail a volunteer's background check", pipeline.ActionFailBackgroundCheck, true},
		{"complete-training <volunteer_id>", "Mark a volunteer's training as completed", pipeline.ActionCompleteTraining, false},
		{"approve-volunteer <volunteer_id>", "Approve a trained volunteer for active service", pipeline.ActionApproveVolunteer, false},
		{"reject <volunteer_id>", "Reject an application", pipeline.ActionRejectApplication, true},
	}

	cmds := make([]*cobra.Command, 0, len(specs))
	for _, spec := range specs {
		cmds = append(cmds, actionCmd(spec))
	}
	return cmds
}

func actionCmd(spec actionSpec) *cobra.Command {
	var notes, reason string

	cmd := &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(args[0], spec.action, pipeline.ActionInput{
				Notes:           notes,
				RejectionReason: reason,
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Notes to record with the action")
	if spec.requireReason {
		cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason (required)")
		cmd.MarkFlagRequired("reason")
	}

	return cmd
}

func runAction(volunteerID string, action pipeline.ActionKind, input pipeline.ActionInput) error {
	volunteer, err := app.client.GetVolunteer(app.ctx, volunteerID)
	if err != nil {
		return err
	}

	// Mirror the board's visibility rule before invoking; the backend will
	// still enforce it.
	principal := app.sessions.Principal()
	authorized := board.AuthorizedActionsFor(model.StateOf(*volunteer), principal, app.evaluator, app.bindings)
	permitted := false
	for _, a := range authorized {
		if a.Action == action {
			permitted = true
			break
		}
	}
	if !permitted {
		return fmt.Errorf("action %s is not available to you for volunteer %s", action, volunteerID)
	}

	updated, err := app.controller.Invoke(app.ctx, *volunteer, action, input)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s applied to %s\n", action, updated.Name())
	fmt.Printf("Status:           %s -> %s\n", volunteer.VolunteerStatus, updated.VolunteerStatus)
	fmt.Printf("Background check: %s\n", updated.BackgroundCheckStatus)
	fmt.Printf("Training:         %s\n", updated.TrainingStatus)
	if updated.RejectionReason != "" {
		fmt.Printf("Rejection reason: %s\n", updated.RejectionReason)
	}
	return nil
}

func renewalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renewals",
		Short: "List volunteers whose background checks are due for renewal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfg.RenewalRRule == "" {
				return fmt.Errorf("renewalRRule is not configured")
			}

			report, err := services.ReviewRenewals(app.ctx, app.client, app.cfg.RenewalRRule, app.logger, time.Now())
			if err != nil {
				return err
			}

			if len(report.Due) == 0 && len(report.Lapsed) == 0 {
				fmt.Println("No background checks need attention.")
				return nil
			}

			if len(report.Due) > 0 {
				fmt.Printf("\nDue for renewal (%d):\n", len(report.Due))
				for _, item := range report.Due {
					fmt.Printf("  %s (%s) - last check %s, due since %s\n",
						item.Name, item.VolunteerID,
						item.CheckedAt.Format("2006-01-02"),
						item.DueAt.Format("2006-01-02"))
				}
			}

			if len(report.Lapsed) > 0 {
				fmt.Printf("\nLapsed checks (%d):\n", len(report.Lapsed))
				for _, item := range report.Lapsed {
					fmt.Printf("  %s (%s)\n", item.Name, item.VolunteerID)
				}
			}
			fmt.Println()
			return nil
		},
	}
}
