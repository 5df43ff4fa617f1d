package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/app"
	"github.com/ternarybob/jcx/internal/common"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/auth"
)

var (
	// Global flags
	configFiles []string
	serverName  string
	serverURL   string
	authMethod  string
	logLevel    string
	noPrompt    bool
	noBanner    bool

	// Global state
	config   *common.Config
	logger   arbor.ILogger
	prompter auth.Prompter // nil with --no-prompt
)

var rootCmd = &cobra.Command{
	Use:   "jcx",
	Short: "Bulk-decrypt Jenkins credentials through the script console",
	Long: `jcx reads encrypted credentials from a Jenkins credentials.xml file and
decrypts them in bulk through the Jenkins script console of the server that
owns them.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVarP(&serverName, "server", "s", "", "Configured server name")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "Jenkins URL of a server that is not configured")
	rootCmd.PersistentFlags().StringVar(&authMethod, "auth-method", string(models.AuthMethodToken), "Auth method used with --url (token, oauth2, cookie)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noPrompt, "no-prompt", false, "Never prompt for credentials")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false, "Do not print the banner")

	rootCmd.AddCommand(decryptCmd, benchmarkCmd, authCmd, healthCmd, reportCmd, configCmd, versionCmd)
}

func main() {
	common.InstallCrashHandler(filepath.Join(common.DataHome(), "crash"))
	os.Exit(run())
}

func run() int {
	defer common.RecoverWithCrashFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// setup loads configuration and the logger.
// Priority: defaults -> config files -> env -> CLI flags.
func setup(cmd *cobra.Command, args []string) error {
	if len(configFiles) == 0 {
		if _, err := os.Stat("jcx.toml"); err == nil {
			configFiles = append(configFiles, "jcx.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	logger = common.InitLogger(config)

	if !noPrompt {
		prompter = auth.NewTerminalPrompter()
	}

	if !noBanner && cmd.Name() != versionCmd.Name() {
		common.PrintBanner(common.GetVersion())
	}

	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Str("data", config.Storage.Badger.Path).
		Msg("Configuration loaded")

	return nil
}

// newApp builds the application for commands that talk to a server
func newApp(ctx context.Context) (*app.App, error) {
	opts := []app.Option{}
	if prompter != nil {
		opts = append(opts, app.WithPrompter(prompter))
	}

	application, err := app.New(ctx, config, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

// profile resolves the server selected by the global flags
func profile(application *app.App) (models.ServerProfile, error) {
	return application.Profile(serverName, serverURL, models.AuthMethod(authMethod))
}
