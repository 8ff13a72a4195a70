package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeJamon/rcld/internal/crypto"
	"github.com/LeJamon/rcld/internal/crypto/validator"
)

var keygenSeed string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create a validator key",
	Long: `Create a validator key and print the node ID to put in the
validators file of every peer. With --seed the key is derived from the
seed, the same way node.validation_seed is used at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			key *crypto.KeyPair
			err error
		)
		if keygenSeed != "" {
			key, err = crypto.KeyPairFromSeed([]byte(keygenSeed))
		} else {
			key, err = crypto.GenerateKeyPair()
		}
		if err != nil {
			return fmt.Errorf("create key: %w", err)
		}
		defer key.Zero()

		signer := validator.NewSigner(key)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "node_id:     %s\n", signer.NodeID())
		fmt.Fprintf(out, "short_id:    %s\n", signer.ShortID())
		if keygenSeed == "" {
			fmt.Fprintf(out, "private_key: %s\n", key.PrivateKeyHex())
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenSeed, "seed", "", "derive the key from this seed")
	rootCmd.AddCommand(keygenCmd)
}
