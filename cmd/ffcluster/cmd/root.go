package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mlsmithjr/transcoder/pkg/config"
	"github.com/mlsmithjr/transcoder/pkg/logging"
)

var (
	cfgFile  string
	verbose  bool
	logLevel string
	logJSON  bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ffcluster",
	Short: "Distribute ffmpeg encodes across a cluster of hosts",
	Long: `ffcluster transcodes media files on local, ssh and agent hosts grouped into
clusters, aborting encodes that will not reach their compression threshold.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.transcode.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log in JSON format")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

// initConfig locates the config file and binds TRANSCODER_* variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".transcode")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("transcoder")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("ffmpeg")
	viper.BindEnv("ffprobe")

	// only the location is taken from viper; the document is decoded typed
	if err := viper.ReadInConfig(); err != nil && verbose {
		fmt.Fprintf(os.Stderr, "No config file found: %v\n", err)
	}
}

func newLogger() *logging.Logger {
	level := viper.GetString("log_level")
	if verbose && strings.EqualFold(level, "info") {
		level = "debug"
	}
	return logging.NewLogger(logging.ParseLevel(level), viper.GetBool("log_json"))
}

// loadConfig decodes the located config file and applies env overrides
func loadConfig() (*config.Config, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".transcode.yml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("ffmpeg"); v != "" {
		cfg.FFmpeg = v
	}
	if v := viper.GetString("ffprobe"); v != "" {
		cfg.FFprobe = v
	}
	return cfg, nil
}
