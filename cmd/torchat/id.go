package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Operative-001/torchat/internal/identity"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Show or store the local TorChat id",
	Long: `Without flags, prints the id the daemon would use. With --set (or
--from-hostname) the id is written to identity.json in the data directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		set, _ := cmd.Flags().GetString("set")
		hostname, _ := cmd.Flags().GetString("from-hostname")

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if hostname != "" {
			if set, err = identity.FromHostname(hostname); err != nil {
				return err
			}
		}
		if set != "" {
			id, err := identity.New(set)
			if err != nil {
				return err
			}
			if err := id.Save(cfg.IdentityPath()); err != nil {
				return err
			}
			fmt.Printf("✓ Saved id %s to %s\n", id.ID, cfg.IdentityPath())
			return nil
		}

		id, err := cfg.ResolveID()
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	idCmd.Flags().String("set", "", "Store this 16-character id")
	idCmd.Flags().String("from-hostname", "", "Store the id read from a Tor hidden service hostname file")
	idCmd.Flags().String("id", "", "Override service.id")
	idCmd.Flags().String("hostname-file", "", "Override service.hostname_file")
}
