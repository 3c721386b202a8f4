package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/ezs2t-live/internal/recording"
)

// ErrPermissionDenied is returned when the microphone or recognizer is not authorized
var ErrPermissionDenied = errors.New("permissions not granted; allow microphone access and check the recognition endpoint")

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var finalizeWait time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one utterance and print the transcript",
		Long: "Records until silence is detected, the recognizer returns a final result,\n" +
			"or Ctrl+C is pressed. The transcript is printed to stdout.",
		PersistentPreRunE: loadDeps(deps),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snap, err := recordOnce(ctx, deps.App.Controller, cmd.ErrOrStderr(), finalizeWait)
			if err != nil {
				return err
			}

			if snap.LastError != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", snap.LastError)
			}
			fmt.Fprintln(cmd.OutOrStdout(), snap.Text)
			if snap.Output != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%d frames, %d Hz)\n",
					snap.Output.Path, snap.Output.Frames, snap.Output.SampleRate)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&finalizeWait, "finalize-wait", 2*time.Second, "How long to wait for late results after the session stops")

	return cmd
}

// Recorder is the part of the controller a single recording needs
type Recorder interface {
	RequestPermissions(ctx context.Context) <-chan bool
	Start(ctx context.Context) error
	Stop()
	Snapshot() recording.Snapshot
	Subscribe() (<-chan recording.Snapshot, func())
}

// recordOnce runs one session to completion. Cancelling ctx stops the
// session gracefully; results arriving within finalizeWait after the stop
// are still collected.
func recordOnce(ctx context.Context, r Recorder, progress io.Writer, finalizeWait time.Duration) (recording.Snapshot, error) {
	if granted := <-r.RequestPermissions(ctx); !granted {
		return recording.Snapshot{}, ErrPermissionDenied
	}

	snaps, cancel := r.Subscribe()
	defer cancel()

	if err := r.Start(ctx); err != nil {
		return recording.Snapshot{}, fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Fprintln(progress, "録音中... (Ctrl+C で停止)")

	snap := r.Snapshot()
	text := snap.Text
	done := ctx.Done()

	for snap.State != recording.Idle {
		select {
		case <-done:
			done = nil
			r.Stop()
		case s, ok := <-snaps:
			if !ok {
				return snap, recording.ErrClosed
			}
			snap = s
		}

		if snap.Text != text {
			text = snap.Text
			fmt.Fprintf(progress, "... %s\n", text)
		}
	}

	timer := time.NewTimer(finalizeWait)
	defer timer.Stop()

	for {
		select {
		case s, ok := <-snaps:
			if !ok {
				return snap, nil
			}
			snap = s
		case <-timer.C:
			return snap, nil
		}
	}
}
