package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emitpy/broadcaster/pkg/queue"
	"github.com/emitpy/broadcaster/pkg/types"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Create, reconfigure, stop, delete or list queues",
	Long: `Queue subcommands talk to the store's descriptor keys directly, the
same protocol a running supervisor's admin task reacts to. A running
supervisor picks up the change through its keyspace subscription; there is
no separate RPC.`,
}

var queueCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create (or overwrite) a queue descriptor with status run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		speed, _ := cmd.Flags().GetFloat64("speed")
		formatter, _ := cmd.Flags().GetString("formatter")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s := cfg.NewStore()
		defer s.Close()

		m := queue.New(s)
		d := &types.Descriptor{
			Name:        name,
			FormatterID: formatter,
			Speed:       speed,
			Status:      types.StatusRun,
			StartTime:   time.Now(),
		}
		if err := m.Create(context.Background(), d); err != nil {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
		fmt.Printf("queue created: %s (speed=%g formatter=%q)\n", name, speed, formatter)
		return nil
	},
}

var queueResetCmd = &cobra.Command{
	Use:   "reset NAME",
	Short: "Reconfigure a queue's speed/start-time in place, preserving its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		speed, _ := cmd.Flags().GetFloat64("speed")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s := cfg.NewStore()
		defer s.Close()

		m := queue.New(s)
		existing, err := m.Get(context.Background(), name)
		if err != nil {
			return fmt.Errorf("reset queue %s: %w", name, err)
		}
		existing.Speed = speed
		existing.Status = types.StatusRun
		existing.StartTime = time.Now()
		if err := m.Create(context.Background(), existing); err != nil {
			return fmt.Errorf("reset queue %s: %w", name, err)
		}
		fmt.Printf("queue reset: %s (speed=%g)\n", name, speed)
		return nil
	},
}

var queueStopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Mark a queue stopped, terminating its Broadcaster without dropping entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s := cfg.NewStore()
		defer s.Close()

		m := queue.New(s)
		existing, err := m.Get(context.Background(), name)
		if err != nil {
			return fmt.Errorf("stop queue %s: %w", name, err)
		}
		existing.Status = types.StatusStop
		if err := m.Create(context.Background(), existing); err != nil {
			return fmt.Errorf("stop queue %s: %w", name, err)
		}
		fmt.Printf("queue stopped: %s\n", name)
		return nil
	},
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a queue's descriptor and its sorted set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s := cfg.NewStore()
		defer s.Close()

		m := queue.New(s)
		if err := m.Delete(context.Background(), name); err != nil {
			return fmt.Errorf("delete queue %s: %w", name, err)
		}
		fmt.Printf("queue deleted: %s\n", name)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known queue names",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s := cfg.NewStore()
		defer s.Close()

		m := queue.New(s)
		names, err := m.List(context.Background())
		if err != nil {
			return fmt.Errorf("list queues: %w", err)
		}
		if len(names) == 0 {
			fmt.Println("no queues found")
			return nil
		}
		for _, name := range names {
			d, err := m.Get(context.Background(), name)
			if err != nil {
				fmt.Printf("%-20s <descriptor unreadable: %v>\n", name, err)
				continue
			}
			fmt.Printf("%-20s status=%-5s speed=%-8g formatter=%s\n", name, d.Status, d.Speed, d.FormatterID)
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueCreateCmd, queueResetCmd, queueStopCmd, queueDeleteCmd, queueListCmd)

	queueCreateCmd.Flags().Float64("speed", 1, "Clock speed multiplier (queue-seconds per wall-second)")
	queueCreateCmd.Flags().String("formatter", "", "Formatter identifier consumers use to interpret payloads")

	queueResetCmd.Flags().Float64("speed", 1, "New clock speed multiplier")
}
