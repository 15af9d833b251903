// Copyright (C) 2025 scobru
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kunai",
	Short: "kunai - decentralized messaging and file transfer",
	Long: `kunai is a peer-to-peer messaging and file-transfer stack layered
over a gossip-replicated graph store.

Peers join a named channel, discover each other via presence records,
exchange signed (and optionally end-to-end encrypted) messages, and move
files as paced chunk streams with automatic loss recovery.`,
}

// Persistent flags shared by the node-running commands.
var (
	flagConfigDir string
	flagChannel   string
	flagSeed      string
	flagRelayURL  string
	flagEncrypt   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config", "config", "configuration directory")
	rootCmd.PersistentFlags().StringVar(&flagChannel, "channel", "", "channel identifier (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagSeed, "seed", "", "identity seed (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagRelayURL, "relay", "", "relay websocket URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagEncrypt, "encrypt", false, "route messaging through the encrypted overlay")

	// Note: Commands are registered in their respective files
	// - identity.go: identityCmd
	// - relay.go: relayCmd
	// - send.go: sendCmd
	// - recv.go: recvCmd
	// - chat.go: chatCmd
}
