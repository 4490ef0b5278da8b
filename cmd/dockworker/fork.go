package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/waabox/dockworker/internal/dispatch"
	"github.com/waabox/dockworker/internal/service"
)

func newForkCommand(flags *rootFlags) *cobra.Command {
	var (
		workflow   string
		distinctID string
		dryRun     bool
		pull       bool
		timeout    time.Duration
		output     string
	)

	cmd := &cobra.Command{
		Use:   "fork <source> [target]",
		Short: "Copy an image into the private registry and wait for the result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{pull: pull, publish: true})
			if err != nil {
				return err
			}
			defer a.Close()

			req := service.ForkRequest{
				Source:     args[0],
				Workflow:   workflow,
				DistinctID: distinctID,
				DryRun:     dryRun,
				Pull:       pull,
				Timeout:    timeout,
			}
			if len(args) == 2 {
				req.Target = args[1]
			}

			stderr := cmd.ErrOrStderr()
			result, err := a.svc.Fork(ctx, req, func(p dispatch.Progress) {
				printProgress(stderr, p)
			})
			if result.Job.ID != 0 {
				if werr := render(cmd.OutOrStdout(), output, forkView(result), forkTable); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow name (defaults to github.default_workflow)")
	cmd.Flags().StringVar(&distinctID, "distinct-id", "", "Correlation id embedded in the run name (generated when empty)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Track the latest run instead of dispatching a new one")
	cmd.Flags().BoolVar(&pull, "pull", false, "Pull the forked image locally and tag it as <source>")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall deadline (defaults to poll.timeout)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

func printProgress(w io.Writer, p dispatch.Progress) {
	switch p.Stage {
	case dispatch.StageLocate:
		if p.RunNumber > 0 {
			fmt.Fprintf(w, "located run #%d (id %d)\n", p.RunNumber, p.RunID)
		}
	case dispatch.StageAwait:
		fmt.Fprintf(w, "run #%d: %s\n", p.RunNumber, p.Status)
	default:
		if p.Message != "" {
			fmt.Fprintf(w, "%s: %s\n", p.Stage, p.Message)
		}
	}
}

type forkOutput struct {
	JobID      int64  `json:"job_id" yaml:"job_id"`
	State      string `json:"state" yaml:"state"`
	Source     string `json:"source" yaml:"source"`
	Target     string `json:"target" yaml:"target"`
	DistinctID string `json:"distinct_id" yaml:"distinct_id"`
	Workflow   string `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	RunNumber  int64  `json:"run_number,omitempty" yaml:"run_number,omitempty"`
	Conclusion string `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	Image      string `json:"image,omitempty" yaml:"image,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func forkView(r service.ForkResult) forkOutput {
	return forkOutput{
		JobID:      r.Job.ID,
		State:      string(r.Outcome.State),
		Source:     r.Job.Source,
		Target:     r.Job.Target,
		DistinctID: r.Job.DistinctID,
		Workflow:   r.Outcome.Workflow.Name,
		RunNumber:  r.Outcome.RunNumber,
		Conclusion: r.Outcome.Conclusion,
		Image:      r.Outcome.Image,
		Error:      r.Job.Error,
	}
}

func forkTable(v forkOutput) ([]string, [][]string) {
	rows := [][]string{
		{"job", fmt.Sprint(v.JobID)},
		{"state", v.State},
		{"source", v.Source},
		{"target", v.Target},
		{"distinct id", v.DistinctID},
	}
	if v.Workflow != "" {
		rows = append(rows, []string{"workflow", v.Workflow})
	}
	if v.RunNumber > 0 {
		rows = append(rows, []string{"run", fmt.Sprintf("#%d %s", v.RunNumber, v.Conclusion)})
	}
	if v.Image != "" {
		rows = append(rows, []string{"image", v.Image})
	}
	if v.Error != "" {
		rows = append(rows, []string{"error", v.Error})
	}
	return []string{"FIELD", "VALUE"}, rows
}
