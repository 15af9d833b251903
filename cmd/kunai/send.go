package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scobru/shogun-kunai/internal/logger"
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Publish a file and print its transfer code",
	Long: `Publishes the file to the channel as a paced chunk stream and prints
the transfer code to share with the receiver. The command keeps running
so lost chunks can be retransmitted, and exits once the receiver
confirms completion or the sender cache expires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		n, err := buildNode(ctx)
		if err != nil {
			return err
		}
		defer n.close()

		name := filepath.Base(path)
		mimeType := mime.TypeByExtension(filepath.Ext(path))

		code, err := n.engine.SendFile(ctx, name, mimeType, data)
		if code != "" {
			fmt.Printf("transfer code: %s\n", code)
		}
		if err != nil {
			// A timed-out offer still prints the code; the user can retry.
			logger.Warn("send finished with error", logger.Error(err))
			return err
		}

		fmt.Println("serving retransmissions; ctrl-c to stop")
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n.engine.CachedTransfers() == 0 {
					fmt.Println("transfer confirmed or cache expired")
					return nil
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
