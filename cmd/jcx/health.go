package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check script console access on the server",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	p, err := profile(application)
	if err != nil {
		return err
	}

	info, err := application.Health(ctx, p)
	if info != nil {
		fmt.Printf("Jenkins %s at %s (%d executors, security %v)\n", info.Version, p.Identity(), info.NumExecutors, info.UseSecurity)
	}
	if err != nil {
		return err
	}

	fmt.Println("Script console: OK")
	return nil
}
