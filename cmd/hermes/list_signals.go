package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"

	"github.com/tanged123/hermes/internal/backplane"
)

func newListSignalsCmd() *cobra.Command {
	var shmName string
	cmd := &cobra.Command{
		Use:   "list-signals",
		Short: "Attach to a running simulation's backplane and print its signal directory",
		RunE: func(_ *cobra.Command, _ []string) error {
			return listSignals(shmName)
		},
	}
	cmd.Flags().StringVar(&shmName, "shm-name", "", "Name of the backplane segment to attach to (required)")
	cmd.MarkFlagRequired("shm-name")
	return cmd
}

// attachWithRetry bounds the race between a concurrently-starting
// `hermes run` creating the segment and this command attaching to it.
func attachWithRetry(shmName string) (*backplane.Segment, error) {
	op := func() (*backplane.Segment, error) {
		bp, err := backplane.Attach(shmName)
		if err != nil {
			return nil, err
		}
		return bp, nil
	}

	return backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(2*time.Second),
	)
}

func listSignals(shmName string) error {
	bp, err := attachWithRetry(shmName)
	if err != nil {
		return fmt.Errorf("attach backplane %s: %w", shmName, err)
	}
	defer bp.Detach()

	names := bp.SignalNames()
	fmt.Printf("%-40s %12s %10s\n", "SIGNAL", "VALUE", "OFFSET")
	for _, name := range names {
		value, err := bp.GetSignal(name)
		if err != nil {
			return fmt.Errorf("read signal %s: %w", name, err)
		}
		offset, _ := bp.Offset(name)
		fmt.Printf("%-40s %12.6g %10d\n", name, value, offset)
	}
	return nil
}
