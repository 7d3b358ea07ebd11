package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var flagShowSecrets bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Resolve flags, CALLRELAY_* environment variables, the config file and defaults,
and print the result. The output can be used as a config file.

Examples:
  callrelay config > callrelay.yaml
  CALLRELAY_LOG_LEVEL=debug callrelay config --config callrelay.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.TURNPass != "" && !flagShowSecrets {
			cfg.TURNPass = "********"
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	configCmd.Flags().BoolVar(&flagShowSecrets, "show-secrets", false, "print the TURN password instead of masking it")
}
