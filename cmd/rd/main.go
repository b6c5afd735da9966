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
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repairdesk/internal/config"
	"repairdesk/internal/db"
	"repairdesk/internal/domain"
	"repairdesk/internal/notify"
	"repairdesk/internal/repo"
	"repairdesk/internal/server"
	"repairdesk/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "rd",
	Short: "Repairdesk CLI",
	Long: `Repairdesk tracks product repair issues through their workflow.
Products are linked to issues, technicians record service operations, and a
completed final test moves the issue to REPAIRED. Targeted notifications
reach connected clients over the live stream exposed by 'rd serve'.`,
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
	viper.SetEnvPrefix("REPAIRDESK")
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
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(opCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(perfCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, workflow.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := workflow.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func actorID() string {
	return viper.GetString("actor-id")
}

func productCmd() *cobra.Command {
	prd := &cobra.Command{Use: "product", Short: "Manage products"}
	prd.AddCommand(productCreateCmd())
	prd.AddCommand(productShowCmd())
	return prd
}

func productCreateCmd() *cobra.Command {
	var serial, status, location string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				var loc *string
				if location != "" {
					loc = &location
				}
				p, err := e.CreateProduct(ctx, serial, domain.ProductStatus(status), loc)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "serial number")
	cmd.Flags().StringVar(&status, "status", string(domain.ProductFirstProduction), "initial status")
	cmd.Flags().StringVar(&location, "location", "", "location id")
	_ = cmd.MarkFlagRequired("serial")
	return cmd
}

func productShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <product-id>",
		Short: "Show a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProduct(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Manage repair issues"}
	iss.AddCommand(issueCreateCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueShowCmd())
	iss.AddCommand(issueStatusCmd())
	iss.AddCommand(issueAttachCmd())
	iss.AddCommand(issueSummaryCmd())
	return iss
}

func issueCreateCmd() *cobra.Command {
	var source, priority string
	var warranty bool
	var estimated float64
	var products []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a repair issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				opts := workflow.IssueCreateOptions{
					Source:          domain.IssueSource(source),
					Priority:        domain.IssuePriority(priority),
					IsUnderWarranty: warranty,
					ProductIDs:      products,
					ActorID:         actorID(),
				}
				if cmd.Flags().Changed("estimated-cost") {
					opts.EstimatedCost = &estimated
				}
				i, err := e.CreateIssue(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(i)
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "issue source (CUSTOMER, TSP, FIRST_PRODUCTION)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (LOW, MEDIUM, HIGH, CRITICAL)")
	cmd.Flags().BoolVar(&warranty, "warranty", false, "issue is under warranty")
	cmd.Flags().Float64Var(&estimated, "estimated-cost", 0, "estimated cost")
	cmd.Flags().StringSliceVar(&products, "product", nil, "product id to link (repeatable)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func issueListCmd() *cobra.Command {
	var status, source, priority string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListIssues(ctx, repo.IssueFilters{
					Status:   status,
					Source:   source,
					Priority: priority,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "Source", "Status", "Priority", "Warranty", "Created"})
				for _, i := range items {
					tw.AppendRow(table.Row{i.IssueNumber, i.Source, i.Status, i.Priority, i.IsUnderWarranty, i.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&source, "source", "", "filter by source")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func issueShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				i, err := r.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(i)
			})
		},
	}
	return cmd
}

func issueStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <issue-id> <status>",
		Short: "Transition an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				i, err := e.SetIssueStatus(ctx, args[0], domain.IssueStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printJSON(i)
			})
		},
	}
	return cmd
}

func issueAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <issue-id> <product-id>",
		Short: "Attach a product to an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				i, err := e.AttachProduct(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSON(i)
			})
		},
	}
	return cmd
}

func issueSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <issue-id>",
		Short: "Repair completion summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.RepairSummary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	return cmd
}

func opCmd() *cobra.Command {
	op := &cobra.Command{Use: "op", Short: "Manage service operations"}
	op.AddCommand(opAddCmd())
	op.AddCommand(opListCmd())
	return op
}

func opAddCmd() *cobra.Command {
	var issueID, opType, status, description, findings, actions, issueProduct string
	var warranty bool
	var cost float64
	var duration int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a service operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				opts := workflow.OperationCreateOptions{
					IssueID:         issueID,
					Type:            domain.OperationType(opType),
					Status:          domain.OperationStatus(status),
					Description:     description,
					IsUnderWarranty: warranty,
					ActorID:         actorID(),
				}
				if findings != "" {
					opts.Findings = &findings
				}
				if actions != "" {
					opts.ActionsTaken = &actions
				}
				if issueProduct != "" {
					opts.IssueProductID = &issueProduct
				}
				if cmd.Flags().Changed("cost") {
					opts.Cost = &cost
				}
				if cmd.Flags().Changed("duration") {
					opts.DurationMinutes = &duration
				}
				op, i, err := e.CreateOperation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"operation": op, "issue": i})
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id")
	cmd.Flags().StringVar(&opType, "type", "", "operation type")
	cmd.Flags().StringVar(&status, "status", string(domain.OpCompleted), "operation status")
	cmd.Flags().StringVar(&description, "description", "", "what was done")
	cmd.Flags().StringVar(&findings, "findings", "", "findings")
	cmd.Flags().StringVar(&actions, "actions", "", "actions taken")
	cmd.Flags().StringVar(&issueProduct, "issue-product", "", "issue product link id")
	cmd.Flags().BoolVar(&warranty, "warranty", false, "operation is under warranty")
	cmd.Flags().Float64Var(&cost, "cost", 0, "cost")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func opListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <issue-id>",
		Short: "List operations of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOperations(ctx, nil, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Status", "Performer", "Cost", "Minutes", "At"})
				for _, op := range items {
					cost := ""
					if op.Cost != nil {
						cost = fmt.Sprintf("%.2f", *op.Cost)
					}
					minutes := ""
					if op.DurationMinutes != nil {
						minutes = fmt.Sprintf("%d", *op.DurationMinutes)
					}
					tw.AppendRow(table.Row{op.Type, op.Status, op.PerformedBy, cost, minutes, op.PerformedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Batch operations"}
	var issueID, file string
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply an operation batch atomically",
		Long:  "Reads a JSON array of operations and applies them to one issue in a single transaction. Any rejected step rolls back the whole batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var steps []workflow.OperationCreateOptions
			if err := json.Unmarshal(data, &steps); err != nil {
				return fmt.Errorf("invalid operations file: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				ops, i, err := e.CreateWorkflow(ctx, issueID, steps, actorID())
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"issue": i, "operations": ops})
			})
		},
	}
	apply.Flags().StringVar(&issueID, "issue", "", "issue id")
	apply.Flags().StringVar(&file, "file", "", "JSON file with operations")
	_ = apply.MarkFlagRequired("issue")
	_ = apply.MarkFlagRequired("file")
	wf.AddCommand(apply)
	return wf
}

func perfCmd() *cobra.Command {
	var performer, from, to string
	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Technician performance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.TechnicianPerformance(ctx, repo.PerformanceFilters{
					PerformedBy: performer,
					DateFrom:    from,
					DateTo:      to,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Technician", "Ops", "Completed", "Cost", "Minutes", "Avg min", "Rate"})
				for _, t := range items {
					tw.AppendRow(table.Row{
						t.PerformedBy, t.TotalOperations, t.CompletedOperations,
						fmt.Sprintf("%.2f", t.TotalCost), t.TotalDuration,
						fmt.Sprintf("%.1f", t.AverageDuration), fmt.Sprintf("%.2f", t.CompletionRate),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&performer, "performer", "", "filter by technician")
	cmd.Flags().StringVar(&from, "from", "", "start of range (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end of range (RFC3339)")
	return cmd
}

func notifyCmd() *cobra.Command {
	nt := &cobra.Command{Use: "notify", Short: "Manage notifications"}
	var user string
	var unread bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				user = actorID()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, repo.NotificationFilters{
					TargetUserID: user,
					UnreadOnly:   unread,
					Limit:        limit,
				})
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	list.Flags().StringVar(&user, "user", "", "target user (defaults to actor-id)")
	list.Flags().BoolVar(&unread, "unread", false, "unread only")
	list.Flags().IntVar(&limit, "limit", 50, "max rows")
	nt.AddCommand(list)

	read := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.MarkNotificationRead(ctx, args[0], actorID())
			})
		},
	}
	nt.AddCommand(read)

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired notifications now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				n, err := r.PurgeExpiredNotifications(ctx, time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				fmt.Printf("purged %d expired notifications\n", n)
				return nil
			})
		},
	}
	nt.AddCommand(purge)
	return nt
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var issueID string
	var after int64
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEvents(ctx, repo.EventFilters{IssueID: issueID, AfterID: after, Limit: limit})
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	tail.Flags().StringVar(&issueID, "issue", "", "filter by issue")
	tail.Flags().Int64Var(&after, "after", 0, "only events after this id")
	tail.Flags().IntVar(&limit, "limit", 100, "max rows")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("REPAIRDESK_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REPAIRDESK_JWT_SECRET is required for bearer auth")
			}

			registry := notify.NewRegistry()
			dispatcher := &notify.Dispatcher{
				Repo:        repo.Repo{DB: conn},
				Registry:    registry,
				ExpiryHours: cfg.Notifications.DefaultExpiryHours,
			}
			e := workflow.New(conn, cfg)
			e.Emit = dispatcher.Notify

			var sweeper *cron.Cron
			if spec := cfg.Notifications.RetentionSchedule; spec != "" {
				sweeper = cron.New()
				_, err := sweeper.AddFunc(spec, func() {
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					n, err := dispatcher.Repo.PurgeExpiredNotifications(ctx, time.Now().UTC().Format(time.RFC3339))
					if err != nil {
						fmt.Printf("retention sweep failed: %v\n", err)
						return
					}
					if n > 0 {
						fmt.Printf("retention sweep purged %d notifications\n", n)
					}
				})
				if err != nil {
					return fmt.Errorf("invalid retention schedule %q: %w", spec, err)
				}
				sweeper.Start()
				defer sweeper.Stop()
			}

			handler, err := server.New(server.Config{
				Engine:                e,
				Dispatcher:            dispatcher,
				Registry:              registry,
				BasePath:              basePath,
				Auth:                  authCfg,
				DashboardCacheSeconds: cfg.Server.DashboardCacheSeconds,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Repairdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}
