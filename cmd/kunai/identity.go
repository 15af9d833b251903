package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scobru/shogun-kunai/identity"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Generate or inspect a peer identity",
	Long: `Without arguments, generates a fresh seed and prints it together
with the derived address. With --seed, re-derives the address so a stored
seed can be checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var ident *identity.Identity
		var err error

		if flagSeed != "" {
			ident, err = identity.FromSeed(flagSeed)
			if err != nil {
				return fmt.Errorf("invalid seed: %w", err)
			}
		} else {
			ident, err = identity.New()
			if err != nil {
				return err
			}
		}

		fmt.Printf("seed:    %s\n", ident.SeedString())
		fmt.Printf("address: %s\n", ident.Address())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
}
