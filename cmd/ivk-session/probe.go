package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/interviewkit/ivk-go/pkg/capture"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check microphone availability without starting an interview",
	RunE: func(cmd *cobra.Command, _ []string) error {
		manager := capture.NewManager(capture.NewMicDevice(slog.Default()), slog.Default())
		if err := manager.Probe(cmd.Context(), capture.Config{Format: capture.DefaultFormat}); err != nil {
			return err
		}
		fmt.Println("Microphone OK.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
