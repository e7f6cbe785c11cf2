package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"platewatch/internal/config"
	"platewatch/internal/logger"
)

const usage = `usage: platewatch <command> [flags]

commands:
  serve              run the access service (owns the record store)
  watch              read a camera or stream and record sightings
  analyze <image>    read plates from a single image
  token              print a bearer token for the ingest endpoint
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(args)
	case "watch":
		err = runWatch(args)
	case "analyze":
		err = runAnalyze(args)
	case "token":
		err = runToken(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "platewatch:", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set carrying the flags every command shares.
// Flag names that match config keys override the file and environment.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default: platewatch.yaml in ., ./config, /etc/platewatch)")
	fs.String("log.level", "", "log level (debug, info, warn, error)")
	fs.Bool("log.pretty", false, "human readable console logs")
	fs.String("store.path", "", "CSV record store path")
	return fs
}

func setup(fs *pflag.FlagSet, args []string) (*config.Config, zerolog.Logger, error) {
	if err := fs.Parse(args); err != nil {
		return nil, zerolog.Nop(), err
	}
	configPath, _ := fs.GetString("config")

	cfg, err := config.Load(configPath, fs)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty), nil
}
