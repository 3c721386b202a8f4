package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/ezs2t-live/internal/app"
	"github.com/yok-tottii/ezs2t-live/internal/config"
	"github.com/yok-tottii/ezs2t-live/internal/logger"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=..."
var Version = "dev"

// Dependencies are built once the flags are parsed
type Dependencies struct {
	ConfigPath string
	LogLevel   string

	Config *config.Config
	Logger *logger.Logger
	App    *app.App
}

// Load reads the configuration and wires the application
func (d *Dependencies) Load() error {
	cfg, err := config.Load(d.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if d.LogLevel != "" {
		cfg.Logging.Level = d.LogLevel
	}

	lc, err := app.LoggerConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	log, err := logger.New(lc)
	if err != nil {
		return err
	}

	application, err := app.New(cfg, log)
	if err != nil {
		log.Close()
		return fmt.Errorf("initializing app: %w", err)
	}

	d.Config = cfg
	d.Logger = log
	d.App = application

	log.Info("ezs2t-live v%s 起動", Version)
	log.Info("設定ファイルを読み込みました: %s", d.ConfigPath)
	return nil
}

// Close releases everything Load acquired
func (d *Dependencies) Close() {
	if d.App != nil {
		d.App.Close()
	}
	if d.Logger != nil {
		d.Logger.Info("終了しました")
		d.Logger.Close()
	}
}

// NewRootCmd builds the command tree
func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ezs2t-live",
		Short: "Live speech-to-text from the microphone",
		Long: "Captures microphone audio, streams it to a speech recognition server and\n" +
			"stops automatically after a period of silence.",
		SilenceUsage: true,
	}

	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&deps.ConfigPath, "config", config.GetConfigPath(), "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&deps.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewListenCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewConfigCmd(deps))

	return rootCmd
}

// loadDeps is the PersistentPreRunE of commands that need the application
func loadDeps(deps *Dependencies) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return deps.Load()
	}
}
