package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Operative-001/torchat/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "torchat",
	Short: "TorChat peer over Tor hidden services.",
	Long: `torchat speaks the TorChat protocol: every user is a Tor hidden
service, buddies are addressed by their 16-character onion id and talk
over a pair of plain-text connections inside Tor.`,
	SilenceUsage: true,
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"data":           "data_dir",
	"id":             "service.id",
	"hostname-file":  "service.hostname_file",
	"listen":         "service.listen",
	"proxy":          "tor.proxy",
	"service-port":   "tor.service_port",
	"accept-unknown": "buddies.accept_unknown",
	"metrics":        "metrics.listen",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
}

// loadConfig reads the config file named by --config and binds whatever
// flags cmd defines on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	file, _ := cmd.Flags().GetString("config")
	v, err := config.New(file)
	if err != nil {
		return nil, nil, err
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, err
			}
		}
	}
	c, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return c, v, nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./torchat.yaml or ~/.torchat/torchat.yaml)")
	rootCmd.PersistentFlags().String("data", config.DefaultDataDir(), "Data directory")

	rootCmd.AddCommand(daemonCmd, idCmd, buddyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
