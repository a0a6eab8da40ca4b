package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/biprop/internal/adapters/bazi"
	"github.com/okian/biprop/internal/cli"
	"github.com/okian/biprop/internal/config"
	"github.com/okian/biprop/pkg/logger"
	flag "github.com/spf13/pflag"
)

const defaultTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// engine bounds start from the service defaults
	engineCfg := config.New(ctx)

	var (
		format     = flag.StringP("format", "f", cli.FormatAuto, "input format: auto, yaml, json or bazi")
		output     = flag.StringP("output", "o", cli.OutputTable, "output format: table, json, yaml or bazi")
		charset    = flag.String("charset", bazi.CharsetUTF8, "BAZI charset: utf-8, cp1252 or latin1")
		upperOnly  = flag.Bool("upper-only", false, "stop after the national party seats")
		reference  = flag.String("verify", "", "seat table (district -> party -> seats) to compare with")
		url        = flag.String("url", "", "compute on a running service instead of locally")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP timeout for --url")
		iterations = flag.Int("max-iterations", engineCfg.MaxIterations, "alternation rounds before giving up")
		partyStep  = flag.Float64("party-step", engineCfg.PartyStep, "relative step of the party divisor scan")
		logLevel   = flag.String("log-level", "warn", "debug, info, warn or error")
		help       = flag.BoolP("help", "h", false, "show help")
	)
	flag.Parse()

	if *help || flag.NArg() != 1 {
		cli.ShowHelp(os.Stdout)
		if !*help {
			os.Exit(2)
		}
		return
	}

	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(*logLevel); err != nil {
		os.Stderr.WriteString("invalid log level: " + err.Error() + "\n")
		os.Exit(2)
	}

	engineCfg.MaxIterations = *iterations
	engineCfg.PartyStep = *partyStep
	if err := engineCfg.Validate(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	cfg := &cli.Config{
		Input:     flag.Arg(0),
		Format:    *format,
		Output:    *output,
		Charset:   *charset,
		Reference: *reference,
		UpperOnly: *upperOnly,
		URL:       *url,
		Timeout:   *timeout,
		Engine:    engineCfg.EngineOptions(),
	}
	if err := cli.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		os.Stderr.WriteString("apportion: " + err.Error() + "\n")
		os.Exit(1)
	}
}
