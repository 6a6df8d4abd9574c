package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/store"
)

func sendersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "senders",
		Short: "Inspect and manage sender pairing state",
	}
	cmd.AddCommand(sendersListCmd())
	cmd.AddCommand(sendersBlockCmd())
	cmd.AddCommand(sendersUnblockCmd())
	return cmd
}

// withPairing opens the configured pairing store, runs fn, and closes it.
func withPairing(fn func(ctx context.Context, pairing store.PairingStore) error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: load config:", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open stores:", err)
		os.Exit(1)
	}
	defer stores.Close()

	if err := fn(ctx, stores.Pairing); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sendersListCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known senders and their status",
		Run: func(cmd *cobra.Command, args []string) {
			withPairing(func(ctx context.Context, pairing store.PairingStore) error {
				senders, err := pairing.AllSenders(ctx, channel)
				if err != nil {
					return err
				}
				if len(senders) == 0 {
					fmt.Println("no senders")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "CHANNEL\tSENDER\tSTATUS\tMESSAGES\tLAST SEEN")
				for _, s := range senders {
					lastSeen := "-"
					if s.LastSeen != nil {
						lastSeen = s.LastSeen.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						s.Channel, s.SenderID, s.Status, s.MessageCount, lastSeen)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "filter by channel type")
	return cmd
}

func sendersBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <channel> <sender-id>",
		Short: "Block a sender",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withPairing(func(ctx context.Context, pairing store.PairingStore) error {
				if err := pairing.BlockSender(ctx, args[1], args[0]); err != nil {
					return err
				}
				fmt.Printf("blocked %s on %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func sendersUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <channel> <sender-id>",
		Short: "Unblock a sender (restores approved status)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withPairing(func(ctx context.Context, pairing store.PairingStore) error {
				if err := pairing.UnblockSender(ctx, args[1], args[0]); err != nil {
					return err
				}
				fmt.Printf("unblocked %s on %s\n", args[1], args[0])
				return nil
			})
		},
	}
}
