package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/maastricht-university/emoface/config"
)

type app struct {
	v          *viper.Viper
	configPath string
}

func (a *app) load() (*cfg.Root, *logrus.Logger, error) {
	conf, err := cfg.Load(a.v, a.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(conf)
	if err != nil {
		return nil, nil, err
	}
	return conf, log, nil
}

func newLogger(c *cfg.Root) (*logrus.Logger, error) {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(c.Pipeline.LogLvl)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	if c.Pipeline.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "emoface",
		Short:         "Stream model replies with an affect-driven face expression",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default config/$CONFIG_ENV/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level override")
	_ = a.v.BindPFlag("pipeline.log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		a.serveCmd(),
		a.interpolateCmd(),
		a.extractCmd(),
		a.configCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "emoface:", err)
		os.Exit(1)
	}
}
