package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/cron"
	"github.com/letsgohq/letsgo/internal/store"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect and manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronRunsCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	return cmd
}

func withCron(fn func(ctx context.Context, cronStore store.CronStore) error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: load config:", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open stores:", err)
		os.Exit(1)
	}
	defer stores.Close()

	if err := fn(ctx, stores.Cron); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored jobs",
		Run: func(cmd *cobra.Command, args []string) {
			withCron(func(ctx context.Context, cronStore store.CronStore) error {
				jobs, err := cronStore.ListJobs(ctx)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("no jobs")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSCHEDULE\tRECIPE\tAGENT\tLAST RUN")
				for _, j := range jobs {
					lastRun := "-"
					if j.LastRun != nil {
						lastRun = j.LastRun.Format(time.RFC3339)
					}
					agent := j.AgentID
					if agent == "" {
						agent = config.DefaultAgentID
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.Name, j.Expr, j.Recipe, agent, lastRun)
				}
				return w.Flush()
			})
		},
	}
}

func cronRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent job executions",
		Run: func(cmd *cobra.Command, args []string) {
			withCron(func(ctx context.Context, cronStore store.CronStore) error {
				runs, err := cronStore.RecentRuns(ctx, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("no runs")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "JOB\tSTARTED\tDURATION\tSTATUS")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n",
						r.JobName, r.StartedAt.Format(time.RFC3339), r.DurationMS, r.Status)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

func cronAddCmd() *cobra.Command {
	var recipe, agentID string
	cmd := &cobra.Command{
		Use:   "add <name> <schedule>",
		Short: "Add or update a job (schedule accepts cron syntax or hourly/daily/weekly)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			expr := cron.NormalizeExpr(args[1])
			if !gronx.New().IsValid(expr) {
				fmt.Fprintf(os.Stderr, "error: invalid schedule %q\n", args[1])
				os.Exit(1)
			}
			withCron(func(ctx context.Context, cronStore store.CronStore) error {
				job := store.CronJob{
					Name:    args[0],
					Expr:    expr,
					Recipe:  recipe,
					AgentID: agentID,
				}
				if err := cronStore.SaveJob(ctx, job); err != nil {
					return err
				}
				fmt.Printf("saved job %q (%s)\n", job.Name, job.Expr)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&recipe, "recipe", "heartbeat", "recipe to run")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default agent when empty)")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withCron(func(ctx context.Context, cronStore store.CronStore) error {
				if err := cronStore.DeleteJob(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("removed job %q\n", args[0])
				return nil
			})
		},
	}
}
