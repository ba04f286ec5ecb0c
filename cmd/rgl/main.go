package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"regline/internal/app"
	"regline/internal/db"
	"regline/internal/engine"
	"regline/internal/repo"
	"regline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rgl",
	Short: "Regline CLI",
	Long: `Regline tracks AI systems through their compliance lifecycle.
- Workspace: a .regline directory holding the database; regline.yml holds policy config.
- Systems: registered AI systems moving draft -> development -> testing -> deployed -> monitoring -> retired.
- Assessments: per-category risk assessments flowing draft -> submitted -> approved/rejected.
- Tasks: governance tasks derived from the catalog for the system's regulation family and stage;
  pending blocking tasks gate lifecycle transitions.
- Holds: governance holds that block assessment approvals.
- Event log: diary of every change, view with 'rgl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(systemCmd())
	rootCmd.AddCommand(assessmentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(holdCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write default regline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func systemCmd() *cobra.Command {
	sys := &cobra.Command{
		Use:   "system",
		Short: "Manage AI systems",
		Long:  "Systems are the registered AI applications whose lifecycle this engine governs.",
	}
	sys.AddCommand(systemRegisterCmd())
	sys.AddCommand(systemListCmd())
	sys.AddCommand(systemShowCmd())
	sys.AddCommand(systemUpdateCmd())
	sys.AddCommand(systemTransitionCmd())
	sys.AddCommand(systemHistoryCmd())
	sys.AddCommand(systemRiskCmd())
	return sys
}

func systemRegisterCmd() *cobra.Command {
	var in engine.RegisterSystemInput
	var accountable string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a system",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("accountable") {
				in.AccountablePerson = &accountable
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sys, err := e.RegisterSystem(ctx, viper.GetString("actor-id"), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(sys)
			})
		},
	}
	cmd.Flags().StringVar(&in.TenantID, "tenant", "default", "owning tenant")
	cmd.Flags().StringVar(&in.Name, "name", "", "system name")
	cmd.Flags().StringVar(&in.Regulation, "regulation", "", "regulation family (EU, UK, MAS)")
	cmd.Flags().StringVar(&in.RiskTier, "risk-tier", "", "upstream risk tier")
	cmd.Flags().StringVar(&accountable, "accountable", "", "accountable person")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("regulation")
	return cmd
}

func systemListCmd() *cobra.Command {
	var f repo.SystemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List systems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				systems, err := e.ListSystems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(systems)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Regulation", "Stage", "Accountable"})
				for _, s := range systems {
					accountable := ""
					if s.AccountablePerson != nil {
						accountable = *s.AccountablePerson
					}
					tw.AppendRow(table.Row{s.ID, s.Name, s.Regulation, s.LifecycleStage, accountable})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TenantID, "tenant", "", "tenant filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Regulation, "regulation", "", "regulation filter")
	return cmd
}

func systemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sys, err := e.GetSystem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sys)
			})
		},
	}
}

func systemUpdateCmd() *cobra.Command {
	var name, riskTier, accountable string
	var clearAccountable bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update system metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.UpdateSystemInput
			if cmd.Flags().Changed("name") {
				in.Name = &name
			}
			if cmd.Flags().Changed("risk-tier") {
				in.RiskTier = &riskTier
			}
			if cmd.Flags().Changed("accountable") {
				in.AccountableProvided = true
				in.AccountablePerson = &accountable
			}
			if clearAccountable {
				in.AccountableProvided = true
				in.AccountablePerson = nil
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sys, err := e.UpdateSystem(ctx, viper.GetString("actor-id"), args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(sys)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "system name")
	cmd.Flags().StringVar(&riskTier, "risk-tier", "", "upstream risk tier")
	cmd.Flags().StringVar(&accountable, "accountable", "", "accountable person")
	cmd.Flags().BoolVar(&clearAccountable, "clear-accountable", false, "clear the accountable person")
	return cmd
}

func systemTransitionCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <id> <stage>",
		Short: "Request a lifecycle transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RequestTransition(ctx, viper.GetString("actor-id"), args[0], args[1], reason)
				if err != nil {
					return err
				}
				for _, w := range res.Warnings {
					fmt.Fprintln(os.Stderr, "warning:", w)
				}
				if res.NoOp {
					fmt.Println("already in stage", args[1])
					return nil
				}
				return printJSONOrTable(res.System)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in history")
	return cmd
}

func systemHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show lifecycle history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "From", "To", "Actor", "Reason"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.TS, h.FromStage, h.ToStage, h.ActorID, h.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func systemRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk <id>",
		Short: "Show aggregated risk posture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.RiskSummaryFor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
}

func assessmentCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "assessment",
		Short: "Manage risk assessments",
		Long:  "Assessments capture per-category risk findings and flow draft -> submitted -> approved/rejected. Only approved assessments count toward aggregate risk.",
	}
	a.AddCommand(assessmentCreateCmd())
	a.AddCommand(assessmentListCmd())
	a.AddCommand(assessmentShowCmd())
	a.AddCommand(assessmentEditCmd())
	a.AddCommand(assessmentSubmitCmd())
	a.AddCommand(assessmentApproveCmd())
	a.AddCommand(assessmentRejectCmd())
	a.AddCommand(assessmentMitigationCmd())
	return a
}

func assessmentCreateCmd() *cobra.Command {
	var in engine.CreateAssessmentInput
	var evidence []string
	cmd := &cobra.Command{
		Use:   "create <system-id>",
		Short: "Create a draft assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SystemID = args[0]
			in.EvidenceLinks = evidence
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAssessment(ctx, viper.GetString("actor-id"), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&in.Category, "category", "", "category (bias, robustness, privacy, explainability)")
	cmd.Flags().StringVar(&in.RiskLevel, "risk-level", "", "risk level (low, medium, high)")
	cmd.Flags().StringVar(&in.Summary, "summary", "", "finding summary")
	cmd.Flags().StringSliceVar(&evidence, "evidence", nil, "evidence links")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("risk-level")
	return cmd
}

func assessmentListCmd() *cobra.Command {
	var f repo.AssessmentFilters
	cmd := &cobra.Command{
		Use:   "list <system-id>",
		Short: "List assessments for a system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.SystemID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAssessments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Category", "Risk", "Status", "Mitigation"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Category, a.RiskLevel, a.Status, a.MitigationStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	return cmd
}

func assessmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAssessment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func assessmentEditCmd() *cobra.Command {
	var riskLevel, summary string
	var evidence []string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a draft assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.EditAssessmentInput
			if cmd.Flags().Changed("risk-level") {
				in.RiskLevel = &riskLevel
			}
			if cmd.Flags().Changed("summary") {
				in.Summary = &summary
			}
			if cmd.Flags().Changed("evidence") {
				in.EvidenceLinks = &evidence
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.EditAssessment(ctx, viper.GetString("actor-id"), args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&riskLevel, "risk-level", "", "risk level")
	cmd.Flags().StringVar(&summary, "summary", "", "finding summary")
	cmd.Flags().StringSliceVar(&evidence, "evidence", nil, "evidence links (replaces the list)")
	return cmd
}

func assessmentSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit an assessment for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitAssessment(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func assessmentApproveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a submitted assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ApproveAssessment(ctx, viper.GetString("actor-id"), args[0], comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func assessmentRejectCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a submitted assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RejectAssessment(ctx, viper.GetString("actor-id"), args[0], comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment (required)")
	_ = cmd.MarkFlagRequired("comment")
	return cmd
}

func assessmentMitigationCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "mitigation <id>",
		Short: "Update mitigation status of an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetMitigation(ctx, viper.GetString("actor-id"), args[0], status)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "mitigation status (not_started, in_progress, mitigated)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Manage governance tasks",
		Long:  "Governance tasks come from the built-in catalog, keyed by regulation family and lifecycle stage. Pending blocking tasks gate transitions; completed tasks never reopen.",
	}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskCompleteCmd())
	t.AddCommand(taskReevaluateCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list <system-id>",
		Short: "List governance tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.SystemID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Key", "Title", "Status", "Blocking"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Key, t.Title, t.Status, t.Blocking})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.BlockingOnly, "blocking", false, "blocking tasks only")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var evidence string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a governance task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var link *string
			if cmd.Flags().Changed("evidence") {
				link = &evidence
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, viper.GetString("actor-id"), args[0], link)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&evidence, "evidence", "", "evidence link")
	return cmd
}

func taskReevaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reevaluate <system-id>",
		Short: "Re-run the task evaluator for a system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ReevaluateTasks(ctx, viper.GetString("actor-id"), args[0]); err != nil {
					return err
				}
				tasks, err := e.ListTasks(ctx, repo.TaskFilters{SystemID: args[0]})
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks)
			})
		},
	}
}

func holdCmd() *cobra.Command {
	h := &cobra.Command{
		Use:   "hold",
		Short: "Manage governance holds",
	}
	h.AddCommand(holdPlaceCmd())
	h.AddCommand(holdReleaseCmd())
	h.AddCommand(holdShowCmd())
	return h
}

func holdPlaceCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "place <system-id>",
		Short: "Place a hold blocking assessment approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.PlaceHold(ctx, viper.GetString("actor-id"), args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "hold reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func holdReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <system-id>",
		Short: "Release a governance hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReleaseHold(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
}

func holdShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <system-id>",
		Short: "Show the active hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.Hold(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var systemID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, systemID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&systemID, "system", "", "system id filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret prints once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, raw, err := e.CreateAPIKey(ctx, actorID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       k.ID,
					"actor_id": k.ActorID,
					"name":     k.Name,
					"key":      raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, e, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			jwtSecret := os.Getenv("REGLINE_JWT_SECRET")
			if jwtSecret == "" {
				jwtSecret = e.Config.Server.JWTSecret
			}
			if jwtSecret == "" {
				return fmt.Errorf("REGLINE_JWT_SECRET or server.jwt_secret is required for bearer auth")
			}
			authCfg := server.AuthConfig{
				JWTSecret:              jwtSecret,
				AllowLegacyActorHeader: e.Config.Server.AllowLegacyActorHeader,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			sweep, err := server.StartSweep(e)
			if err != nil {
				return err
			}
			if sweep != nil {
				defer sweep.Stop()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Regline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, e, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, e, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e.Repo)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
