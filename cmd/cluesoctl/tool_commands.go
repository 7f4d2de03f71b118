package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clueso-studio/backend/internal/app"
	"github.com/clueso-studio/backend/internal/media"
	"github.com/clueso-studio/backend/internal/stages"
	"github.com/clueso-studio/backend/internal/toolrunner"
	"github.com/clueso-studio/backend/internal/transcript"
)

func newValidateTranscriptCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "validate-transcript <file|->",
		Short: "Check a transcript (plain text or JSON document) against the quality gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return validateTranscript(cmd, data, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

type validationOutput struct {
	Valid           bool    `json:"valid"`
	Error           string  `json:"error,omitempty"`
	Length          int     `json:"length"`
	WordCount       int     `json:"wordCount"`
	UniqueWordCount int     `json:"uniqueWordCount"`
	RepetitionRatio float64 `json:"repetitionRatio"`
	HighRepetition  bool    `json:"highRepetition"`
}

// validateTranscript prints the report and returns the validation error, if any.
func validateTranscript(cmd *cobra.Command, data []byte, jsonOut bool) error {
	raw := string(data)
	if doc, err := transcript.ParseDocument(data); err == nil {
		raw = doc.Text
	}
	report, verr := transcript.Validate(raw)

	out := validationOutput{
		Valid:           verr == nil,
		Length:          report.Length,
		WordCount:       report.WordCount,
		UniqueWordCount: report.UniqueWordCount,
		RepetitionRatio: report.RepetitionRatio,
		HighRepetition:  report.HighRepetition,
	}
	if verr != nil {
		out.Error = verr.Error()
	}

	if jsonOut {
		if err := writeJSON(cmd, out); err != nil {
			return err
		}
		return verr
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Check", "Value"},
		[][]string{
			{"Length", strconv.Itoa(out.Length)},
			{"Words", strconv.Itoa(out.WordCount)},
			{"Unique words", strconv.Itoa(out.UniqueWordCount)},
			{"Repetition", strconv.FormatFloat(out.RepetitionRatio, 'f', 3, 64)},
			{"High repetition", yesNo(out.HighRepetition)},
			{"Valid", yesNo(out.Valid)},
		},
		[]columnAlignment{alignLeft, alignRight},
	))
	return verr
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <video>",
		Short: "Report duration, resolution and frame rate of a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runner := toolrunner.NewExecRunner(ctx.log())
			res, err := runner.Run(cmd.Context(), toolrunner.Command{
				Name: cfg.Tools.FFprobePath,
				Args: media.ProbeArgs(args[0]),
			})
			if err != nil {
				return err
			}
			info, err := media.ParseProbe([]byte(res.Stdout))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFields([][2]string{
				{"Duration", strconv.FormatFloat(info.DurationSeconds, 'f', 2, 64) + "s"},
				{"Resolution", info.Resolution()},
				{"FPS", strconv.FormatFloat(info.FPS, 'f', 2, 64)},
			}))
			return nil
		},
	}
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe a local audio file and validate the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			transcriber := stages.NewTranscriber(app.StageDeps(cfg, nil, ctx.log()))
			doc, err := transcriber.Transcribe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, doc)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFields([][2]string{
				{"Language", doc.Language},
				{"Length", strconv.Itoa(doc.Length)},
				{"Words", strconv.Itoa(doc.WordCount)},
				{"Repetition", strconv.FormatFloat(doc.RepetitionRatio, 'f', 3, 64)},
			}))
			fmt.Fprintln(cmd.OutOrStdout(), doc.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the transcript document as JSON")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("transcript file %s not found", path)
	}
	return data, err
}
