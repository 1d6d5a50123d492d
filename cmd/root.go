/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"github.com/kfsoftware/drivenet/cmd/serve"
	"github.com/kfsoftware/drivenet/cmd/version"
	"github.com/kfsoftware/drivenet/cmd/wallet"
	"github.com/spf13/cobra"
)

func NewRootCMD() *cobra.Command {
	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use:   "drivenet",
		Short: "DriveNet vehicle registry backend",
		Long: `DriveNet exposes a REST API over a Hyperledger Fabric vehicle registry
chaincode. Users log in with their CA enrollment credentials and act on the
ledger with their own identity.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.AddCommand(
		serve.NewServeCmd(),
		wallet.NewWalletCMD(),
		version.NewVersionCmd(),
	)
	return rootCmd
}
