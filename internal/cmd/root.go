package cmd

import (
	"fmt"
	"os"

	"github.com/abduss/tusdrive/internal/config"
	"github.com/abduss/tusdrive/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ConfigPathEnv names the environment variable holding the config file path.
const ConfigPathEnv = "TUSDRIVE_CONFIG_PATH"

var (
	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// GlobalOptions are shared by every subcommand.
type GlobalOptions struct {
	ConfigPath string
}

// NewRootCommand creates the `tusdrive` command and its children.
func NewRootCommand() *cobra.Command {
	o := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:           "tusdrive [command]",
		Short:         "Resumable upload server backed by object storage",
		Version:       versionInfo(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&o.ConfigPath, "config", "c", os.Getenv(ConfigPathEnv),
		"Path to a YAML config file; environment variables override it")

	cmd.AddCommand(NewServeCommand(o))
	cmd.AddCommand(NewMigrateCommand(o))

	return cmd
}

// load reads configuration and installs the logger it describes.
func (o *GlobalOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logg, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logg, nil
}

func versionInfo() string {
	if version == "" {
		return "dev"
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
