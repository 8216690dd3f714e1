package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrej220/swapctl/internal/journal"
	"github.com/andrej220/swapctl/pkg/config"
	"github.com/andrej220/swapctl/pkg/consumer"
)

type eventReader interface {
	Read(ctx context.Context) (journal.Event, error)
	Close() error
}

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "journal",
		Short:       "Inspect the swap audit journal",
		Annotations: map[string]string{noSetup: ""},
	}
	cmd.AddCommand(newJournalTailCmd(a))
	return cmd
}

func newJournalTailCmd(a *app) *cobra.Command {
	var (
		runID     string
		group     string
		fromStart bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow swap events published to the journal Kafka topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			if len(cfg.Journal.Kafka.Brokers) == 0 {
				return fmt.Errorf("%s: journal.kafka is not configured", a.cfgPath)
			}
			r := a.openReader(consumer.Config{
				Brokers:   cfg.Journal.Kafka.Brokers,
				Topic:     cfg.Journal.Kafka.Topic,
				GroupID:   group,
				FromStart: fromStart,
			})
			defer r.Close()
			return tailEvents(cmd.Context(), r, cmd.OutOrStdout(), runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show events of this swap run")
	cmd.Flags().StringVar(&group, "group", "", "consumer group to commit offsets with")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "read the topic from the first retained event")
	return cmd
}

func kafkaReader(cfg consumer.Config) eventReader {
	return consumer.NewConsumer[journal.Event](cfg)
}

// tailEvents prints events until ctx is done.
func tailEvents(ctx context.Context, r eventReader, out io.Writer, runID string) error {
	for {
		ev, err := r.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if runID != "" && ev.RunID != runID {
			continue
		}
		fmt.Fprintln(out, formatEvent(ev))
	}
}

func formatEvent(ev journal.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %-10s", ev.Time.Format(time.RFC3339), ev.RunID, ev.Kind)
	if ev.Step > 0 {
		fmt.Fprintf(&b, " step %d", ev.Step)
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, " %q", ev.Name)
	}
	if ev.Host != "" {
		fmt.Fprintf(&b, " on %s", ev.Host)
	}
	fmt.Fprintf(&b, ": %s", ev.Outcome)
	for _, e := range ev.Errors {
		b.WriteString("\n    " + e)
	}
	return b.String()
}
