package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/sqs"
)

// sweepEnv provides the environment for the sweep command.
type sweepEnv struct {
	requestedBy string
}

// newSweepCmd returns the definition of the sweep command.
func newSweepCmd() *cobra.Command {
	env := &sweepEnv{}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Queue a reminder sweep on SQS_SWEEP_QUEUE_URL.",
		RunE:  env.run,
	}

	cmd.Flags().StringVar(&env.requestedBy, "requested-by", "beaconctl", "Recorded on the trigger message")

	return cmd
}

func (e *sweepEnv) run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.SQSSweepQueueURL == "" {
		return errors.New("SQS_SWEEP_QUEUE_URL is not set")
	}

	producer, err := sqs.NewProducer(cmd.Context(), sqs.Config{
		Region:   cfg.SQSRegion,
		QueueURL: cfg.SQSSweepQueueURL,
		Endpoint: cfg.SQSEndpoint,
	}, zap.NewNop())
	if err != nil {
		return err
	}

	id, err := producer.EnqueueSweep(cmd.Context(), e.requestedBy)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "queued sweep %s\n", id)
	return nil
}
