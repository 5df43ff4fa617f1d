package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export benchmark history as CSV",
	RunE:  runReport,
}

var reportOutput string

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "CSV path (default: [benchmark] report_path, - for stdout)")
}

func runReport(cmd *cobra.Command, args []string) error {
	application, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	path := reportOutput
	if path == "" {
		path = config.Benchmark.ReportPath
	}

	if path == "-" {
		return application.Monitor.WriteCSV(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if err := application.Monitor.WriteCSV(f); err != nil {
		return err
	}

	fmt.Printf("Wrote %d samples to %s\n", len(application.Monitor.Samples()), path)
	return nil
}
