// Binary lockbench exercises the lock coordinator with a transfer workload
// over an on-disk ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/mit-pdos/go-lockgroup/internal/config"
	"github.com/mit-pdos/go-lockgroup/util"
)

var (
	configFile = flag.String("config", "", "path to a YAML config file")
	debugLevel = flag.Uint64("v", 0, "DPrintf verbosity; nonzero also enables debug logging")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&cycleCmd{}, "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	exitCode := subcommands.Execute(context.Background())
	os.Exit(int(exitCode))
}

// Fatalf logs the error and exits with status 128.
func Fatalf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

func loadConfig() (*config.Config, error) {
	if *configFile == "" {
		return config.Default(), nil
	}
	return config.FromFile(*configFile)
}

// setupLogging configures the standard logrus logger and returns the entry
// handed to the libraries.
func setupLogging(cfg *config.Config) *logrus.Entry {
	lvl, err := cfg.Level()
	if err != nil {
		Fatalf("%v", err)
	}
	if *debugLevel > 0 {
		util.Debug = *debugLevel
		lvl = logrus.DebugLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("app", "lockbench")
	util.SetLogger(log)
	return log
}
