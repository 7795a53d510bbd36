package cmd

import (
	"os"

	"github.com/dkeye/Viewing/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	relayURL string
	token    string
	cfg      *config.ClientConfig
)

var rootCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Headless client for live property viewings",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		c, err := config.LoadClient()
		if err != nil {
			return err
		}
		if relayURL != "" {
			c.RelayURL = relayURL
		}
		if token != "" {
			c.Token = token
		}
		level, err := zerolog.ParseLevel(c.LogLevel)
		if err != nil {
			level = zerolog.WarnLevel
		}
		zerolog.SetGlobalLevel(level)
		cfg = c
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "relay websocket url (overrides relay_url)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "access token for an authenticated identity")
}
