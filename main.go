package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-gtd/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "prism-gtd",
		Short:        "GTD task views and manual ordering over HTTP",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")
	root.AddCommand(serveCmd(&configFile), initStorageCmd(&configFile), genTokenCmd(&configFile))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return cfg, nil
}
