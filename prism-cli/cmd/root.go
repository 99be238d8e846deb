// Package cmd implements the prism command-line interface.
package cmd

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree with its own viper instance so that
// tests can run commands side by side.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string
	var verbose bool

	root := &cobra.Command{
		Use:   "prism",
		Short: "Prioritize tasks on the Eisenhower matrix",
		Long: `prism shows your tasks grouped by suit and keeps the view live.

  spade    urgent and important
  heart    important, not urgent
  diamond  urgent, not important
  club     neither

Quick start:
  prism matrix                 Print the current matrix
  prism watch                  Keep the matrix updated in real time
  prism move TASK-ID heart     Reassign a task`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
			return initConfig(v, cfgFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.prism/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.String("api-url", "http://localhost:8080", "prism-api base URL")
	pf.String("stream-url", "http://localhost:9000", "stream-service base URL")
	pf.String("token", "", "bearer token")
	pf.String("transport", "sse", "realtime transport (sse|ws)")
	pf.Duration("request-timeout", 0, "timeout for each remote request (default 10s)")
	pf.Int("reconnect-attempts", 0, "give up after this many failed connects (0 retries forever)")
	_ = v.BindPFlags(pf)

	root.AddCommand(newMatrixCmd(v))
	root.AddCommand(newWatchCmd(v))
	root.AddCommand(newMoveCmd(v))
	root.AddCommand(newTokenCmd())
	return root
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".prism")
		v.AddConfigPath("$HOME/.prism")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("PRISM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	log.WithField("file", v.ConfigFileUsed()).Debug("using config file")
	return nil
}
