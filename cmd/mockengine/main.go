// Command mockengine serves canned recognition and diarization replies so the
// process command can be exercised without real speech services.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var addr string
	e := &engine{}

	cmd := &cobra.Command{
		Use:          "mockengine",
		Short:        "Serve canned /asr and /diarize replies",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.segment <= 0 {
				return errors.New("--segment must be positive")
			}
			if e.speakers < 1 {
				return errors.New("--speakers must be at least 1")
			}
			e.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:         addr,
				Handler:      e.routes(),
				ReadTimeout:  time.Minute,
				WriteTimeout: time.Minute,
			}

			errCh := make(chan error, 1)
			go func() {
				e.logger.Info("Mock engine listening",
					slog.String("address", addr),
					slog.String("asr", "http://"+addr+"/asr"),
					slog.String("diarize", "http://"+addr+"/diarize"),
				)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "Listen address")
	cmd.Flags().DurationVar(&e.segment, "segment", 4*time.Second, "Length of each canned segment")
	cmd.Flags().IntVar(&e.speakers, "speakers", 2, "Number of speakers to alternate between")
	cmd.Flags().DurationVar(&e.latency, "latency", 200*time.Millisecond, "Simulated processing time per request")
	cmd.Flags().Int64Var(&e.failFirst, "fail-first", 0, "Answer the first N requests with 503")

	return cmd
}
