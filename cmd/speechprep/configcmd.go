package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/adam-palmer1/smarterli-desktop/internal/config"
)

// ConfigCmd prints the effective configuration as YAML.
type ConfigCmd struct {
	Write  bool   `help:"Write the configuration to --output (or the default config path) instead of printing it."`
	Output string `short:"o" type:"path" help:"Destination for --write."`
}

// Run executes the config command.
func (c *ConfigCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if !c.Write {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	path := c.Output
	if path == "" {
		if path, err = config.Path(); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"component": "config", "path": path}).Info("configuration written")
	return nil
}
