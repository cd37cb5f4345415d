package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emitpy/broadcaster/pkg/clock"
	"github.com/emitpy/broadcaster/pkg/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue QUEUE PAYLOAD",
	Short: "Enqueue a single test payload due after a delay, as a new movement",
	Long: `Enqueue is operator/test-producer tooling: it wraps one call to the
Enqueue API under a freshly generated movement ID (unless --movement-id is
given), so repeated invocations without that flag never collide with each
other's enqueue sets. Real producers are expected to
reuse a stable movement ID across calls so later calls replace earlier ones.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		queueName, payload := args[0], args[1]
		delay, _ := cmd.Flags().GetDuration("in")
		movementType, _ := cmd.Flags().GetString("movement-type")
		movementID, _ := cmd.Flags().GetString("movement-id")
		if movementID == "" {
			movementID = uuid.NewString()
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s := cfg.NewStore()
		defer s.Close()

		m := queue.New(s)
		score := clock.TimeToScore(time.Now().Add(delay))
		entries := map[string]float64{payload: score}

		if err := m.Enqueue(context.Background(), queueName, movementType, movementID, entries); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		fmt.Printf("enqueued to %s: movement=%s due=%s\n", queueName, movementID, time.Now().Add(delay).Format(time.RFC3339))
		return nil
	},
}

func init() {
	enqueueCmd.Flags().Duration("in", 0, "Delay from now until this entry is due")
	enqueueCmd.Flags().String("movement-type", "manual", "Movement type tag for the enqueue set key")
	enqueueCmd.Flags().String("movement-id", "", "Movement ID (generated if empty)")
}
