// Package cmd implements the fyk command line interface over the client
// library.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	fyk "github.com/Thomah6/fetchyourkeys-go"
	"github.com/Thomah6/fetchyourkeys-go/audit"
)

var (
	cfgFile    string
	client     *fyk.Client
	cliContext *CLIContext
)

// CLIContext identifies one CLI invocation in diagnostics and audit
// metadata.
type CLIContext struct {
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fyk",
	Short: "Fetch and cache your FetchYourKeys API keys",
	Long: `fyk retrieves the API-key records registered for your FetchYourKeys
account and caches them locally, encrypted under material derived from your
API key. When the service is unreachable, lookups are answered from the
encrypted cache written by a previous run with the same key.`,
	PersistentPreRunE: initializeClient,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if client != nil {
			return client.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fyk.yaml)")
	rootCmd.PersistentFlags().StringP("api-key", "k", "", "FetchYourKeys API key (or FYK_API_KEY env var)")
	rootCmd.PersistentFlags().String("base-url", "", "keys endpoint URL")
	rootCmd.PersistentFlags().StringP("environment", "e", "", "cache environment (development, production)")
	rootCmd.PersistentFlags().String("cache-dir", "", "override the disk cache directory")
	rootCmd.PersistentFlags().Duration("timeout", 0, "remote request timeout")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose diagnostics")
	rootCmd.PersistentFlags().Bool("silent", false, "suppress non-error diagnostics")

	bindFlagOrPanic("api_key", "api-key")
	bindFlagOrPanic("base_url", "base-url")
	bindFlagOrPanic("environment", "environment")
	bindFlagOrPanic("cache_dir", "cache-dir")
	bindFlagOrPanic("timeout", "timeout")
	bindFlagOrPanic("debug", "debug")
	bindFlagOrPanic("silent", "silent")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.file_path", "audit-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	var flag *pflag.Flag
	if flag = rootCmd.PersistentFlags().Lookup(flagName); flag == nil {
		panic(fmt.Sprintf("unknown flag %s", flagName))
	}
	if err := viper.BindPFlag(configKey, flag); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".fyk")
	}

	viper.SetEnvPrefix("FYK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Missing config file is fine: flags and env vars suffice.
	} else if viper.GetBool("debug") {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// initializeClient constructs the shared client before a command runs.
// Commands that never talk to the service or the cache opt out: audit
// only reads the local JSONL log.
func initializeClient(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "help", "completion", "__complete", "audit":
		return nil
	}

	hostname, _ := os.Hostname()
	cliContext = &CLIContext{
		SessionID: uuid.NewString(),
		Source:    hostname,
		StartTime: time.Now().UTC(),
	}

	var auditCfg *audit.Config
	if viper.GetBool("audit.enabled") {
		auditCfg = &audit.Config{
			Enabled: true,
			Type:    audit.FileAuditType,
			Options: map[string]any{"file_path": auditFilePath()},
		}
	}

	var err error
	client, err = fyk.New(fyk.Config{
		APIKey:         viper.GetString("api_key"),
		BaseURL:        viper.GetString("base_url"),
		Environment:    viper.GetString("environment"),
		CacheDir:       viper.GetString("cache_dir"),
		RequestTimeout: viper.GetDuration("timeout"),
		Debug:          viper.GetBool("debug"),
		SilentMode:     viper.GetBool("silent"),
		Audit:          auditCfg,
	})
	return err
}

// auditFilePath resolves the audit log location, defaulting to a dotfile
// in the user's home directory.
func auditFilePath() string {
	if p := viper.GetString("audit.file_path"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fyk-audit.jsonl"
	}
	return filepath.Join(home, ".fyk-audit.jsonl")
}
