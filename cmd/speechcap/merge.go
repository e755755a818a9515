package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/speechcap/internal/transcript"
)

type mergeFlags struct {
	asr         string
	diarization string
	output      string
}

func newMergeCommand(opts *options) *cobra.Command {
	f := &mergeFlags{}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge recognition and diarization output into a transcript",
		Long: `Merge recognition and diarization output into a transcript.

Both inputs are JSON, either a bare array of segments or an object with a
"segments" array, in the shape the recognition and diarization services
return.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := opts.load()
			if err != nil {
				return err
			}

			var asr []transcript.RawASRSegment
			if err := readSegments(f.asr, &asr); err != nil {
				return err
			}
			var dia []transcript.RawDiarizationSegment
			if err := readSegments(f.diarization, &dia); err != nil {
				return err
			}

			merged := transcript.Merge(asr, dia)
			logger.Info("Merged transcript",
				slog.Int("asr_segments", len(asr)),
				slog.Int("diarization_segments", len(dia)),
				slog.Int("segments", len(merged.Segments)),
				slog.Int("speakers", len(merged.Speakers)),
			)

			return writeJSON(cmd.OutOrStdout(), f.output, merged)
		},
	}

	cmd.Flags().StringVar(&f.asr, "asr", "", "Recognition output JSON")
	cmd.Flags().StringVar(&f.diarization, "diarization", "", "Diarization output JSON")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the transcript to this file instead of stdout")
	cmd.MarkFlagRequired("asr")
	cmd.MarkFlagRequired("diarization")

	return cmd
}

// readSegments decodes a bare segment array or a {"segments": [...]} object
func readSegments[T any](path string, out *[]T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}

	var wrapped struct {
		Segments []T `json:"segments"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	*out = wrapped.Segments
	return nil
}
