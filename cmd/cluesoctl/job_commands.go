package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clueso-studio/backend/internal/app"
	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/models"
)

// eventPrinter streams status writes to the terminal while a job runs.
type eventPrinter struct {
	out io.Writer
}

func (p eventPrinter) PublishJobEvent(_ context.Context, _ uuid.UUID, ev models.JobEvent) error {
	line := fmt.Sprintf("%s  %s", ev.At.Local().Format(time.TimeOnly), ev.Status)
	if ev.ErrorMessage != "" {
		line += "  " + ev.ErrorMessage
	}
	_, err := fmt.Fprintln(p.out, line)
	return err
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a job through the pipeline in the foreground",
		Long: "Runs the full pipeline for an UPLOADED job, or a single stage with --stage.\n" +
			"Stages: audio-extraction, transcription, script-improvement, voiceover, video-render.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			var stage models.Stage
			if stageName != "" {
				if stage, err = models.ParseStage(stageName); err != nil {
					return err
				}
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := cmd.Context()
			pool, err := ctx.database(runCtx)
			if err != nil {
				return err
			}
			store, err := app.NewStorage(runCtx, cfg, ctx.log())
			if err != nil {
				return err
			}
			repo := jobs.NewRepository(pool)
			pl := app.NewPipeline(cfg, repo, store, eventPrinter{out: cmd.OutOrStdout()}, ctx.log())

			if stage == "" {
				if err := pl.Orchestrator.Run(runCtx, jobID); err != nil {
					return err
				}
			} else {
				job, err := repo.Get(runCtx, jobID)
				if err != nil {
					return err
				}
				if job.Status != stage.RequiredStatus() {
					return fmt.Errorf("%s requires status %s, job is %s", stage, stage.RequiredStatus(), job.Status)
				}
				if err := pl.Orchestrator.RunStage(runCtx, job, stage); err != nil {
					return err
				}
			}

			job, err := repo.Get(runCtx, jobID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJob(job))
			return nil
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Run only this stage")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var userFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job record, or list a user's jobs with --user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && userFlag == "" {
				return fmt.Errorf("pass a job id or --user")
			}
			runCtx := cmd.Context()
			pool, err := ctx.database(runCtx)
			if err != nil {
				return err
			}
			repo := jobs.NewRepository(pool)

			if len(args) == 1 {
				jobID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid job id: %w", err)
				}
				job, err := repo.Get(runCtx, jobID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, job)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJob(job))
				return nil
			}

			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			list, err := repo.ListByUser(runCtx, userID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobList(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "List jobs owned by this user id")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func renderJob(job *models.Job) string {
	var duration, fps string
	if job.DurationSeconds > 0 {
		duration = strconv.FormatFloat(job.DurationSeconds, 'f', 2, 64) + "s"
	}
	if job.FPS > 0 {
		fps = strconv.FormatFloat(job.FPS, 'f', 2, 64)
	}
	return renderFields([][2]string{
		{"ID", job.ID.String()},
		{"User", job.UserID.String()},
		{"Project", job.ProjectID},
		{"Status", string(job.Status)},
		{"Input", job.InputVideoKey},
		{"Audio", job.AudioKey},
		{"Transcript", job.TranscriptKey},
		{"Script", job.ImprovedScriptKey},
		{"Voice", job.VoiceKey},
		{"Video", job.FinalVideoKey},
		{"Duration", duration},
		{"Resolution", job.Resolution},
		{"FPS", fps},
		{"Error", job.ErrorMessage},
		{"Created", job.CreatedAt.Local().Format(time.DateTime)},
		{"Updated", job.UpdatedAt.Local().Format(time.DateTime)},
	})
}

func renderJobList(list []*models.Job) string {
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		rows = append(rows, []string{
			j.ID.String(),
			string(j.Status),
			yesNo(j.TranscriptKey != ""),
			yesNo(j.VoiceKey != ""),
			yesNo(j.FinalVideoKey != ""),
			j.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"Job", "Status", "Transcript", "Voice", "Video", "Created"},
		rows,
		nil,
	)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
