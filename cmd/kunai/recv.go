package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scobru/shogun-kunai/internal/logger"
	"github.com/scobru/shogun-kunai/transfer"
)

var recvOutDir string

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Join the channel and save incoming files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		n, err := buildNode(ctx)
		if err != nil {
			return err
		}
		defer n.close()

		if err := os.MkdirAll(recvOutDir, 0755); err != nil {
			return err
		}

		n.engine.OnReceiveProgress(func(p transfer.Progress) {
			fmt.Printf("\r%s: %d/%d chunks (%d%%)", p.FileID, p.Received, p.Total, p.Percent)
		})
		n.engine.OnFileReceived(func(f transfer.File) {
			// Never trust a remote filename with path separators.
			name := filepath.Base(f.Filename)
			out := filepath.Join(recvOutDir, name)
			if err := os.WriteFile(out, f.Data, 0644); err != nil {
				logger.ErrorMsg("failed to save file", logger.String("path", out), logger.Error(err))
				return
			}
			fmt.Printf("\nsaved %s (%d bytes) from %s\n", out, len(f.Data), f.Sender)
		})
		n.engine.OnTransferFailed(func(fileID string, err error) {
			fmt.Printf("\ntransfer %s failed: %v\n", fileID, err)
		})

		fmt.Println("waiting for files; ctrl-c to stop")
		<-ctx.Done()
		return nil
	},
}

func init() {
	recvCmd.Flags().StringVar(&recvOutDir, "out", ".", "directory to save received files")
	rootCmd.AddCommand(recvCmd)
}
