package cmd

import (
	"fmt"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/common/io"
	"github.com/annchain/dagconsensus/node"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a local committee",
	Long:  `Generate the committee file and one private key per authority under datadir`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// DAG_KEY_PASSPHRASE seals the key files
		mergeEnvConfig()
		n, _ := cmd.Flags().GetInt("authorities")
		epoch, _ := cmd.Flags().GetUint64("epoch")
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		return generateCommittee(n, epoch, overwrite)
	},
}

func generateCommittee(n int, epoch uint64, overwrite bool) error {
	if n < 1 {
		return fmt.Errorf("need at least one authority, got %d", n)
	}
	committeePath := dataPath(viper.GetString("committee_file"))
	if io.FileExists(committeePath) && !overwrite {
		return fmt.Errorf("%s already exists, use --overwrite to replace it", committeePath)
	}
	c, keys, err := committee.NewLocalCommittee(epoch, committee.EqualStakes(n))
	if err != nil {
		return err
	}
	if err := io.MkDirIfNotExists(viper.GetString("datadir")); err != nil {
		return err
	}
	for i, key := range keys {
		if err := node.SavePrivateKey(keyPath(i), key, viper.GetString("key_passphrase")); err != nil {
			return fmt.Errorf("save key %d: %w", i, err)
		}
	}
	if err := committee.WriteCommitteeFile(committeePath, c); err != nil {
		return err
	}
	fmt.Printf("committee of %d written to %s\n", n, committeePath)
	return nil
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().IntP("authorities", "n", 4, "Number of authorities")
	keygenCmd.Flags().Uint64("epoch", 0, "Committee epoch")
	keygenCmd.Flags().Bool("overwrite", false, "Replace an existing committee")
}
