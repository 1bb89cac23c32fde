// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendfix/internal/config"
	"github.com/xkilldash9x/attendfix/internal/observability"
)

const defaultConfigName = "attendfix"

// flagKeys maps command flags onto the configuration keys they override.
var flagKeys = map[string]string{
	"prev-month": "session.previous_month",
	"headless":   "browser.headless",
	"output":     "report.output",
	"format":     "report.format",
}

// app is what PersistentPreRunE resolves for the subcommands, plus the
// factories tests replace.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger

	openSession  sessionFactory
	openHistory  historyFactory
	readPassword func() (string, error)
}

func newApp() *app {
	return &app{
		openSession:  newBrowserSession,
		openHistory:  newStoreHistory,
		readPassword: promptPassword,
	}
}

// NewRootCommand builds the attendfix command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newApp())
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "attendfix",
		Short:         "attendfix corrects flagged attendance rows in Recoru.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./"+defaultConfigName+".yaml)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newRowsCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// initialize loads .env, the config file, the environment and the flags of
// cmd into a validated Config and starts the global logger.
func (a *app) initialize(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	v := viper.New()
	config.SetDefaults(v)
	if err := readConfigFile(v, a.cfgFile); err != nil {
		return err
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	observability.InitializeLogger(cfg.Logger)

	a.cfg = cfg
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded.", zap.String("version", Version), zap.String("config_file", v.ConfigFileUsed()))
	return nil
}

func readConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// Execute runs the command tree with ctx. A cancelled context is reported
// as context.Canceled so callers can exit cleanly.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Warn("Aborted by signal.")
		return err
	}
	observability.GetLogger().Error("Command execution failed", zap.Error(err))
	return err
}
