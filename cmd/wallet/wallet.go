package wallet

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/kfsoftware/drivenet/store/wallet"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type walletFlags struct {
	path string
}

func (f *walletFlags) open() (wallet.Store, error) {
	if f.path == "" {
		return nil, errors.New("--wallet-path is required")
	}
	return wallet.NewBadgerStore(f.path)
}

func NewWalletCMD() *cobra.Command {
	flags := &walletFlags{}
	walletCmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspects the identity wallet",
	}
	walletCmd.PersistentFlags().StringVar(&flags.path, "wallet-path", "", "path to the wallet directory")
	walletCmd.AddCommand(
		newListCMD(flags),
		newRemoveCMD(flags),
	)
	return walletCmd
}

type listCmd struct {
	*walletFlags
}

func newListCMD(flags *walletFlags) *cobra.Command {
	c := listCmd{walletFlags: flags}
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the enrolled identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd)
		},
	}
}

func (c listCmd) run(cmd *cobra.Command) error {
	store, err := c.open()
	if err != nil {
		return err
	}
	defer store.Close()
	identities, err := store.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tMSP\tCN\tEXPIRES\tKEY")
	for _, identity := range identities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			identity.UserID,
			identity.MSPID,
			identity.CommonName,
			identity.NotAfter.Format(time.RFC3339),
			shortKey(identity.Key),
		)
	}
	return w.Flush()
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}

type removeCmd struct {
	*walletFlags
}

func newRemoveCMD(flags *walletFlags) *cobra.Command {
	c := removeCmd{walletFlags: flags}
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Removes an identity, its holder has to log in again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args[0])
		},
	}
}

func (c removeCmd) run(cmd *cobra.Command, key string) error {
	store, err := c.open()
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Remove(key); err != nil {
		return errors.Wrapf(err, "failed to remove %s", key)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", key)
	return err
}
