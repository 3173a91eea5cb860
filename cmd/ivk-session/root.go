package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "ivk-session",
	Short: "Run candidate interview sessions from a terminal",
	Long: `ivk-session drives time-boxed candidate interviews against the
InterviewKit platform.

Scripted sessions present fixed questions and capture one microphone
segment per question under a countdown; conversational sessions hold a
continuous voice exchange with the interviewer agent and finalize the
transcript when either side ends the call.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		setupLogging(verboseLevel)

		viper.SetEnvPrefix("IVK")
		viper.AutomaticEnv()
		if err := viper.BindPFlag("base_url", cmd.Flags().Lookup("base-url")); err != nil {
			return err
		}
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %q: %w", cfgFile, err)
			}
		}
		return nil
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("base-url", "", "platform base URL (IVK_BASE_URL)")
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "increase log verbosity (-v, -vv)")
}

func setupLogging(level int) {
	slogLevel := slog.LevelWarn
	switch {
	case level >= 2:
		slogLevel = slog.LevelDebug
	case level == 1:
		slogLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
}

func baseURL() string {
	return viper.GetString("base_url")
}
