package cmd

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pulseapm/pulse-go/pkg/cmd/check"
	"github.com/pulseapm/pulse-go/pkg/cmd/demo"
	"github.com/pulseapm/pulse-go/pkg/config"
)

func init() {
	// debug flag
	pflag.BoolVar(&config.Debug, "debug", false, "Enable debug mode")
}

// NewViper creates a new viper instance configured.
func NewViper() *viper.Viper {
	vp := viper.New()

	// read config from a file
	vp.SetConfigName("pulse") // name of config file (without extension)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".") // look for a config in the working directory first
	vp.AddConfigPath("/etc/pulse")

	// read config from environment variables
	vp.SetEnvPrefix("pulse") // env var must start with PULSE_
	// replace - by _ for environment variable names
	// (eg: the env var for server-url is SERVER_URL)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv() // read in environment variables that match

	// a missing config file is fine, env and flags still apply
	if err := vp.ReadInConfig(); err == nil {
		logrus.WithField("file", vp.ConfigFileUsed()).Debug("loaded config file")
	}
	return vp
}

func New(vp *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "pulse",
		Short: "Pulse APM agent utilities",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if config.Debug {
				logrus.SetLevel(logrus.DebugLevel)
				logrus.Info("enabled debug mode")
			}
			return nil
		},
	}
	root.PersistentFlags().AddFlagSet(pflag.CommandLine)
	return root
}

func Execute() {
	vp := NewViper()

	root := New(vp)
	root.AddCommand(check.New(vp))
	root.AddCommand(demo.New(vp))

	err := root.Execute()
	if err != nil {
		os.Exit(1)
	}
}
