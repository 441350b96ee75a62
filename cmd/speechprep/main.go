// Command speechprep conditions live system audio and microphone audio for a
// speech-to-text service.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/adam-palmer1/smarterli-desktop/internal/config"
)

var version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	ConfigPath string           `name:"config" short:"c" type:"path" help:"Path to YAML config file (optional)"`
	LogLevel   string           `help:"Override the configured log level" enum:"debug,info,warn,error," default:""`
	Version    kong.VersionFlag `short:"v" help:"Show version information"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" help:"Capture microphone and system audio, condition both and stream them."`
	Simulate SimulateCmd `cmd:"" help:"Run a synthetic tone through the system chain and print per-frame levels."`
	Config   ConfigCmd   `cmd:"" help:"Print (or write) the effective configuration."`
}

// load returns the configuration named by --config, or the defaults, and
// applies the log level.
func (g *Globals) load() (*config.Config, error) {
	cfg := config.Default()
	if g.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(g.ConfigPath); err != nil {
			return nil, err
		}
	}
	if g.LogLevel != "" {
		cfg.LogLevel = config.LogLevel(g.LogLevel)
	}
	logrus.SetLevel(cfg.LogLevel.Logrus())
	return cfg, nil
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("speechprep"),
		kong.Description("Real-time speech audio preprocessing: loudness conditioning, gating and echo cancellation"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
