package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yourusername/poolscaler/internal/config"
	"github.com/yourusername/poolscaler/internal/logging"
)

var (
	configPath string
	envFile    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "poolscaler",
	Short: "poolscaler - time-aware autoscaler for worker slot pools",
	Long: `poolscaler keeps a pool of worker slots sized according to an ordered list of
scaling policies. Each policy is enabled during time periods (always or weekly
recurring windows in UTC); the first enabled policy decides the target slot count.

Environment Variables:
  POOLSCALER_<SECTION>_<KEY>  Override any config key, e.g. POOLSCALER_POOL_NAME`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile, cmd.Root().PersistentFlags().Changed("env-file"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with POOLSCALER_* overrides")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(decideCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFile 默认的 .env 不存在时忽略；显式指定的文件必须存在
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig 加载配置并创建logger
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, logger, nil
}
