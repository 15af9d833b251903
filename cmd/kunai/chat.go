package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// chatLine is the value exchanged by the chat command.
type chatLine struct {
	Text string `json:"text"`
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive line-based messaging on the channel",
	Long: `Reads lines from stdin and broadcasts them to the channel; prints
messages from other peers as they arrive. With --encrypt, messages ride
the end-to-end encrypted overlay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		n, err := buildNode(ctx)
		if err != nil {
			return err
		}
		defer n.close()

		n.engine.OnMessage(func(address string, value json.RawMessage) {
			var line chatLine
			if err := json.Unmarshal(value, &line); err != nil || line.Text == "" {
				return
			}
			fmt.Printf("<%s> %s\n", shortAddr(address), line.Text)
		})

		g, ctx := errgroup.WithContext(ctx)
		n.serveSidecars(ctx, g)

		g.Go(func() error {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				text := scanner.Text()
				if text == "" {
					continue
				}
				if err := n.engine.Send(ctx, chatLine{Text: text}); err != nil {
					fmt.Printf("send failed: %v\n", err)
				}
			}
			return scanner.Err()
		})
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})

		fmt.Println("connected; type to chat, ctrl-c to leave")
		return g.Wait()
	},
}

// shortAddr abbreviates an address for display.
func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10]
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
