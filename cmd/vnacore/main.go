package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vnacore",
	Short: "Measurement coordination for vector network and spectrum analyzers",
	Long: `vnacore unifies one or more measurement devices into a single instrument,
fuses their per stage results into multi port measurements and streams them to outputs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelName, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(levelName)
		if err != nil {
			return err
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
		return nil
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().String("config", "vnacore.yaml", "YAML or TOML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace|debug|info|warn|error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
