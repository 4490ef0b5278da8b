package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/jobs"
)

func newWorkflowsCommand(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List the workflows of the pusher repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.svc.ListWorkflows(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, workflowsView(list), workflowsTable)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

type workflowOutput struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	State     string    `json:"state" yaml:"state"`
	Path      string    `json:"path" yaml:"path"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

type workflowsOutput struct {
	Total     int              `json:"total" yaml:"total"`
	Workflows []workflowOutput `json:"workflows" yaml:"workflows"`
}

func workflowsView(list domain.WorkflowList) workflowsOutput {
	out := workflowsOutput{Total: list.TotalCount, Workflows: make([]workflowOutput, 0, len(list.Workflows))}
	for _, wf := range list.Workflows {
		out.Workflows = append(out.Workflows, workflowOutput{
			ID:        wf.ID,
			Name:      wf.Name,
			State:     wf.State,
			Path:      wf.Path,
			CreatedAt: wf.CreatedAt,
			UpdatedAt: wf.UpdatedAt,
		})
	}
	return out
}

func workflowsTable(v workflowsOutput) ([]string, [][]string) {
	rows := make([][]string, 0, len(v.Workflows))
	for _, wf := range v.Workflows {
		rows = append(rows, []string{strconv.FormatInt(wf.ID, 10), wf.Name, wf.State, wf.Path})
	}
	return []string{"ID", "NAME", "STATE", "PATH"}, rows
}

func newRunsCommand(flags *rootFlags) *cobra.Command {
	var (
		status  string
		perPage int
		page    int
		output  string
	)
	cmd := &cobra.Command{
		Use:   "runs <workflow-id>",
		Short: "List dispatch runs of a workflow, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("workflow id must be an integer: %q", args[0])
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.svc.ListRuns(ctx, workflowID, domain.RunFilter{Status: status, PerPage: perPage, Page: page})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, runsView(list), runsTable)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status (queued, in_progress, completed, ...)")
	cmd.Flags().IntVar(&perPage, "per-page", 3, "Runs per page")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

type runOutput struct {
	ID         int64     `json:"id" yaml:"id"`
	RunNumber  int64     `json:"run_number" yaml:"run_number"`
	Name       string    `json:"name" yaml:"name"`
	Status     string    `json:"status" yaml:"status"`
	Conclusion string    `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	HTMLURL    string    `json:"html_url" yaml:"html_url"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

type runsOutput struct {
	TotalCount int         `json:"total_count" yaml:"total_count"`
	Runs       []runOutput `json:"workflow_runs" yaml:"workflow_runs"`
}

func runsView(list domain.RunList) runsOutput {
	out := runsOutput{TotalCount: list.TotalCount, Runs: make([]runOutput, 0, len(list.Runs))}
	for _, r := range list.Runs {
		out.Runs = append(out.Runs, runOutput{
			ID:         r.ID,
			RunNumber:  r.RunNumber,
			Name:       r.Name,
			Status:     string(r.Status),
			Conclusion: r.Conclusion,
			HTMLURL:    r.HTMLURL,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out
}

func runsTable(v runsOutput) ([]string, [][]string) {
	rows := make([][]string, 0, len(v.Runs))
	for _, r := range v.Runs {
		rows = append(rows, []string{
			"#" + strconv.FormatInt(r.RunNumber, 10),
			r.Name,
			r.Status,
			r.Conclusion,
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return []string{"RUN", "NAME", "STATUS", "CONCLUSION", "CREATED"}, rows
}

func newJobsCommand(flags *rootFlags) *cobra.Command {
	var (
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "jobs [id]",
		Short: "Show the local job history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var list []jobs.Job
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("job id must be an integer: %q", args[0])
				}
				job, err := a.svc.Job(ctx, id)
				if err != nil {
					return err
				}
				list = []jobs.Job{job}
			} else {
				list, err = a.svc.Jobs(ctx, limit)
				if err != nil {
					return err
				}
			}
			if list == nil {
				list = []jobs.Job{}
			}
			return render(cmd.OutOrStdout(), output, list, jobsTable)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

func jobsTable(list []jobs.Job) ([]string, [][]string) {
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		run := ""
		if j.RunNumber > 0 {
			run = "#" + strconv.FormatInt(j.RunNumber, 10)
		}
		image := j.FullURL
		if j.Error != "" {
			image = j.Error
		}
		rows = append(rows, []string{
			strconv.FormatInt(j.ID, 10),
			string(j.Status),
			j.Source,
			run,
			image,
			j.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return []string{"ID", "STATUS", "SOURCE", "RUN", "IMAGE / ERROR", "CREATED"}, rows
}
