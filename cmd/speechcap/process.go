package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/speechcap/internal/capture"
	"github.com/skypro1111/speechcap/internal/metrics"
	"github.com/skypro1111/speechcap/internal/pipeline"
	"github.com/skypro1111/speechcap/internal/transcription"
)

type processFlags struct {
	session     string
	mic         []string
	system      []string
	output      string
	asr         string
	diarization string
}

func newProcessCommand(opts *options) *cobra.Command {
	f := &processFlags{}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Transcribe recorded chunks into a speaker-attributed transcript",
		Long: `Transcribe recorded chunks into a speaker-attributed transcript.

The chunks are given either as the JSON chunk list printed by "record"
(--session) or as explicit paths (--mic, --system). Mic and system audio are
mixed, sent to the recognition and diarization services concurrently, and the
results are merged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("asr-endpoint") {
				cfg.Transcription.ASREndpoint = f.asr
			}
			if cmd.Flags().Changed("diarization-endpoint") {
				cfg.Transcription.DiarizationEndpoint = f.diarization
			}

			result, err := f.result()
			if err != nil {
				return err
			}

			m := metrics.NewMetrics(prometheus.NewRegistry())
			client, err := transcription.NewClient(transcriptionConfig(cfg), logger.With(slog.String("component", "transcription")), m)
			if err != nil {
				return err
			}
			defer client.Close()

			p := pipeline.New(pipelineConfig(cfg), client, client, logger.With(slog.String("component", "pipeline")))
			out, err := p.Process(cmd.Context(), result)
			if err != nil {
				return err
			}

			stats := client.Stats()
			logger.Info("Transcript ready",
				slog.Int("segments", len(out.Segments)),
				slog.Int("speakers", len(out.Speakers)),
				slog.Uint64("requests", stats.TotalRequests),
				slog.Uint64("retries", stats.TotalRetries),
			)

			return writeJSON(cmd.OutOrStdout(), f.output, out)
		},
	}

	cmd.Flags().StringVar(&f.session, "session", "", "Chunk list JSON written by record")
	cmd.Flags().StringSliceVar(&f.mic, "mic", nil, "Mic chunk paths in order")
	cmd.Flags().StringSliceVar(&f.system, "system", nil, "System chunk paths in order")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the transcript to this file instead of stdout")
	cmd.Flags().StringVar(&f.asr, "asr-endpoint", "", "Override the recognition service URL")
	cmd.Flags().StringVar(&f.diarization, "diarization-endpoint", "", "Override the diarization service URL")

	return cmd
}

// result builds the chunk list from the flags
func (f *processFlags) result() (capture.Result, error) {
	if f.session != "" {
		if len(f.mic) > 0 || len(f.system) > 0 {
			return capture.Result{}, errors.New("--session cannot be combined with --mic or --system")
		}
		var result capture.Result
		if err := readJSON(f.session, &result); err != nil {
			return capture.Result{}, err
		}
		if len(result.MicChunks) == 0 {
			return capture.Result{}, fmt.Errorf("%s lists no mic chunks", f.session)
		}
		return result, nil
	}

	if len(f.mic) == 0 {
		return capture.Result{}, errors.New("either --session or --mic is required")
	}

	result := capture.Result{}
	for i, path := range f.mic {
		result.MicChunks = append(result.MicChunks, capture.ChunkFile{Index: i + 1, Path: path})
	}
	for i, path := range f.system {
		result.SystemChunks = append(result.SystemChunks, capture.ChunkFile{Index: i + 1, Path: path})
	}
	return result, nil
}
