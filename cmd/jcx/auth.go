package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/ternarybob/jcx/internal/models"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Jenkins sessions",
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached session for each server",
	RunE:  runAuthStatus,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store a session",
	RunE:  runAuthLogin,
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored session",
	RunE:  runAuthClear,
}

var authClearAll bool

func init() {
	authClearCmd.Flags().BoolVar(&authClearAll, "all", false, "Forget every stored session, including servers no longer configured")
	authCmd.AddCommand(authStatusCmd, authLoginCmd, authClearCmd)
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	var profiles []models.ServerProfile
	if serverName != "" || serverURL != "" {
		p, err := profile(application)
		if err != nil {
			return err
		}
		profiles = append(profiles, p)
	} else {
		for _, name := range config.ServerNames() {
			p, err := config.Profile(name)
			if err != nil {
				logger.Warn().Err(err).Str("server", name).Msg("Skipping invalid server")
				continue
			}
			profiles = append(profiles, p)
		}
	}

	table := uitable.New()
	table.AddRow("SERVER", "URL", "METHOD", "SESSION", "EXPIRES", "CIRCUIT")
	snapshots := application.Breakers.Snapshots()
	listed := make(map[string]bool)
	for _, p := range profiles {
		status := application.Sessions.Status(ctx, p)
		listed[sessionKey(status)] = true

		circuit := string(models.BreakerClosed)
		if snap, ok := snapshots[p.Identity()]; ok {
			circuit = string(snap.State)
		}

		session, expires := describeSession(status)
		table.AddRow(p.Name, p.Identity(), p.AuthMethod, session, expires, circuit)
	}

	// Sessions kept for servers that are not configured, e.g. used with --url
	if serverName == "" && serverURL == "" {
		stored, err := application.Sessions.Stored(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Could not list stored sessions")
		}
		for _, status := range stored {
			if listed[sessionKey(status)] {
				continue
			}
			session, expires := describeSession(status)
			table.AddRow("-", status.Identity, status.Method, session, expires, "-")
		}
	}

	fmt.Println(table)
	return nil
}

func sessionKey(status models.SessionStatus) string {
	return string(status.Method) + " " + status.Identity
}

func describeSession(status models.SessionStatus) (session, expires string) {
	if !status.Persisted && !status.Cached {
		return "none", "-"
	}
	return "stored", humanize.Time(status.ExpiresAt)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
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

	if err := application.Sessions.Invalidate(ctx, p); err != nil {
		logger.Warn().Err(err).Msg("Could not clear previous session")
	}

	session, err := application.Sessions.Acquire(ctx, p)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Printf("Logged in to %s with %s, session expires %s\n", p.Identity(), session.Method, humanize.Time(session.ExpiresAt))
	return nil
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if authClearAll {
		stored, err := application.Sessions.Stored(ctx)
		if err != nil {
			return err
		}
		for _, status := range stored {
			if err := application.Sessions.Invalidate(ctx, models.ServerProfile{URL: status.Identity, AuthMethod: status.Method}); err != nil {
				return err
			}
		}
		fmt.Printf("Cleared %s stored sessions\n", humanize.Comma(int64(len(stored))))
		return nil
	}

	p, err := profile(application)
	if err != nil {
		return err
	}

	if err := application.Sessions.Invalidate(ctx, p); err != nil {
		return err
	}

	fmt.Printf("Session for %s cleared\n", p.Identity())
	return nil
}
