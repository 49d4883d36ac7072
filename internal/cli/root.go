package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evtrack/internal/config"
	"evtrack/internal/logger"
	"evtrack/pkg/api"
)

// NewRoot 创建根命令
func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "evtrack",
		Short:         "evtrack: record page interactions and forward tracked events to analytics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version
	cmd.SetVersionTemplate("evtrack {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("EVTRACK_CONFIG", "evtrack.yaml"), "Path to the YAML config file")
	cmd.PersistentFlags().String("log-level", "", "Override log.level (debug|info|warn|error)")

	cmd.AddCommand(newRecordCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newInspectCmd())
	return cmd
}

// loadConfig 读取配置并按配置创建日志器
func loadConfig(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	l := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Writer: cfg.Log.Writer,
		File:   cfg.Log.File,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, l, nil
}

// openService 读取配置并创建服务，调用方负责 Close
func openService(ctx context.Context, cmd *cobra.Command) (api.Service, *config.Config, logger.Logger, error) {
	cfg, l, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := api.NewService(ctx, cfg, l)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open service: %w", err)
	}
	return svc, cfg, l, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
