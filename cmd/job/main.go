package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/deepresearch/orchestrator/config"
	"github.com/deepresearch/orchestrator/internal/jobs"
	"github.com/deepresearch/orchestrator/internal/store"
)

// job is the intake and inspection CLI: submit a research question,
// optionally attach a recurrence expression, and read back a job's status
// and steps. Its only write is CreateJob; it never touches a running job's state.
func main() {
	root := &cobra.Command{Use: "job"}
	root.AddCommand(createCMD(), showCMD(), scheduleCMD())
	_ = root.Execute()
}

func openStore(cfgPath string) (*store.Store, func(), error) {
	cfg := config.LoadConfig(cfgPath)
	db, err := sql.Open("postgres", cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return store.New(db), func() { _ = db.Close() }, nil
}

func createCMD() *cobra.Command {
	var cfgPath, question, depth, tags, cron string
	var maxSteps int
	var maxDurationSeconds int64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a research question as a new job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("--question is required")
			}
			st, closeFn, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer closeFn()

			opts := jobs.Options{
				Depth:              depth,
				MaxSteps:           maxSteps,
				MaxDurationSeconds: maxDurationSeconds,
			}
			if strings.TrimSpace(tags) != "" {
				opts.Tags = strings.Split(tags, ",")
			}

			metadata := map[string]interface{}{}
			if strings.TrimSpace(cron) != "" {
				if _, err := cronexpr.Parse(cron); err != nil {
					return fmt.Errorf("invalid --cron expression: %w", err)
				}
				metadata["recurrence"] = cron
			}

			j, err := st.CreateJob(cmd.Context(), question, opts, metadata)
			if err != nil {
				return err
			}
			fmt.Printf("created job %s (status=%s)\n", j.ID, j.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	cmd.Flags().StringVar(&question, "question", "", "the research question")
	cmd.Flags().StringVar(&depth, "depth", "", "depth hint (shallow|standard|deep)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "override job_engine.max_steps for this job")
	cmd.Flags().Int64Var(&maxDurationSeconds, "max-duration-seconds", 0, "per-job wall-clock budget")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&cron, "cron", "", "optional cron expression for recurring re-research (recorded in metadata, not scheduled by this command)")
	return cmd
}

func showCMD() *cobra.Command {
	var cfgPath string
	var withNotes bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a job's status, steps, and optionally its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer closeFn()

			j, err := st.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("job %s: status=%s question=%q\n", j.ID, j.Status, j.Question)
			if j.Error != nil {
				fmt.Printf("  error: %s\n", *j.Error)
			}

			steps, err := st.ListSteps(cmd.Context(), j.ID)
			if err != nil {
				return err
			}
			for _, s := range steps {
				fmt.Printf("  step %-6s [%s] %s\n", s.ID[:8], s.Status, s.Title)
			}

			if withNotes {
				notes, err := st.ListNotes(cmd.Context(), j.ID)
				if err != nil {
					return err
				}
				for _, n := range notes {
					fmt.Printf("  note %-6s (%s, importance=%d): %s\n", n.ID[:8], n.Role, n.Importance, truncate(n.Content, 80))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	cmd.Flags().BoolVar(&withNotes, "notes", false, "also print the job's notes")
	return cmd
}

// scheduleCMD reports the next N fire times for a cron expression without
// enqueuing anything; a recurring job is still created one-shot at a time
// via `job create --cron`, this is for verifying the expression first.
func scheduleCMD() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "schedule <cron-expression>",
		Short: "Print the next occurrences of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := cronexpr.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid cron expression: %w", err)
			}
			for _, t := range expr.NextN(time.Now(), uint(count)) {
				fmt.Println(t.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "number of future occurrences to print")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
