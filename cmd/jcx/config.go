package main

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/ternarybob/jcx/internal/common"
	"github.com/ternarybob/jcx/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the merged configuration with secrets redacted",
	Long: `Prints the configuration after merging defaults, config files and
environment overrides. With --server or --url the resolved server profile is
printed as well. Secrets are never shown.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	data, err := config.Redacted().TOML()
	if err != nil {
		return err
	}

	if len(configFiles) > 0 {
		fmt.Printf("# Files: %v\n", configFiles)
	}
	fmt.Print(string(data))

	if serverName == "" && serverURL == "" {
		return nil
	}

	var p models.ServerProfile
	if serverURL != "" {
		p, err = config.ProfileForURL(serverURL, models.AuthMethod(authMethod))
	} else {
		p, err = config.Profile(serverName)
	}
	if err != nil {
		return err
	}

	fmt.Println()
	printProfile(p)
	return nil
}

func printProfile(p models.ServerProfile) {
	table := uitable.New()
	table.AddRow("SERVER", p.Name)
	table.AddRow("IDENTITY", p.Identity())
	table.AddRow("AUTH", p.AuthMethod)
	table.AddRow("CREDENTIAL", credentialState(p))
	table.AddRow("WORKERS", p.MaxWorkers)
	table.AddRow("RATE", fmt.Sprintf("%g/s burst %d", p.RateLimit, p.Burst))
	table.AddRow("TIMEOUT", p.Timeout)
	table.AddRow("SESSION TTL", p.TTL())
	table.AddRow("RETRY", fmt.Sprintf("%d attempts, %s to %s, jitter %g", p.Retry.MaxAttempts, p.Retry.BaseDelay, p.Retry.MaxDelay, p.Retry.Jitter))
	table.AddRow("BREAKER", fmt.Sprintf("%d failures, cool-down %s", p.Breaker.FailureThreshold, p.Breaker.CoolDown))
	table.AddRow("BATCH", fmt.Sprintf("%d bytes, %d per chunk", p.Batch.MaxScriptBytes, p.Batch.MaxChunkSize))
	fmt.Println(table)
}

// credentialState says which secret the profile carries without showing it
func credentialState(p models.ServerProfile) string {
	set := func(secret string) string {
		if secret == "" {
			return "not set"
		}
		return common.RedactedValue
	}

	switch p.AuthMethod {
	case models.AuthMethodToken:
		return "token " + set(p.Token.Token)
	case models.AuthMethodOAuth2:
		return "refresh token " + set(p.OAuth2.RefreshToken)
	case models.AuthMethodCookie:
		if p.Cookie.Browser {
			return "cookie from browser login"
		}
		return "cookie " + set(p.Cookie.Value)
	default:
		return "-"
	}
}
