package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/archgraph/internal/events"
	"github.com/alfredjeanlab/archgraph/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream ingestion events from NATS",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL: pass --nats, set ARCHGRAPH_NATS_URL, or add one to the active remote")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		subscription, err := sub.Subscribe(events.TopicAll)
		if err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
		defer func() {
			subscription.Close()
			if n := subscription.Dropped(); n > 0 {
				log.Printf("watch: dropped %d events (output too slow)", n)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-subscription.C:
				if !ok {
					return nil
				}
				if jsonOutput {
					fmt.Fprintf(cmd.OutOrStdout(), "{\"topic\":%q,\"data\":%s}\n", msg.Topic, msg.Data)
					continue
				}
				printEvent(cmd.OutOrStdout(), msg)
			}
		}
	},
}

// printEvent writes a one-line description of an ingestion event.
func printEvent(w io.Writer, msg events.Message) {
	ev, err := events.Decode(msg)
	if err != nil {
		fmt.Fprintf(w, "%s %s\n", ui.RenderWarn("?"), err)
		return
	}
	switch e := ev.(type) {
	case *events.IngestStarted:
		mode := ""
		if e.FullResync {
			mode = " (full resync)"
		}
		fmt.Fprintf(w, "%s run %s started: %d facts%s\n",
			ui.RenderMuted(e.StartedAt.Format("15:04:05")), e.RunID, e.Facts, mode)
	case *events.GenerationCommitted:
		g := e.Generation
		fmt.Fprintf(w, "%s generation %d committed by run %s: %d entities, %d relationships\n",
			ui.RenderAccent("+"), g.Number, g.RunID, g.Nodes, g.Edges)
	case *events.IngestCompleted:
		s := e.Summary
		fmt.Fprintf(w, "%s run %s completed in %s: %d malformed, %d unresolved, %d conflicts\n",
			ui.RenderAccent("✓"), s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond), s.Malformed, s.Unresolved, s.Conflicts)
	case *events.IngestFailed:
		fmt.Fprintf(w, "%s run %s failed: %s\n", ui.RenderWarn("✗"), e.RunID, e.Error)
	}
}

func init() {
	watchCmd.Flags().String("nats", os.Getenv("ARCHGRAPH_NATS_URL"), "NATS server URL")
}
