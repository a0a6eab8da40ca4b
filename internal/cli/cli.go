// Package cli implements the apportion command: it reads an election, runs
// the biproportional apportionment and prints the seat matrix.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/okian/biprop/internal/adapters/bazi"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/pkg/logger"
)

// computer is satisfied by the local engine and the service client.
type computer interface {
	Apportion(ctx context.Context, e model.Election) (*apportion.Result, error)
	Upper(ctx context.Context, e model.Election) (apportion.UpperResult, error)
}

type localEngine struct {
	engine *apportion.Engine
}

func (l localEngine) Apportion(ctx context.Context, e model.Election) (*apportion.Result, error) { //nolint:gocritic // hugeParam: read-only input
	return l.engine.Run(ctx, e)
}

func (l localEngine) Upper(ctx context.Context, e model.Election) (apportion.UpperResult, error) { //nolint:gocritic // hugeParam: read-only input
	vm, err := model.NewVoteMatrixFromElection(e)
	if err != nil {
		return apportion.UpperResult{}, err
	}
	return l.engine.Upper(ctx, vm)
}

// Run executes one invocation, reading stdin when the input is "-" and
// writing the result to out.
func Run(ctx context.Context, cfg *Config, stdin io.Reader, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.Get().Named("cli")

	election, err := loadElection(cfg, stdin)
	if err != nil {
		return err
	}
	log.Debug(ctx, "election loaded",
		logger.String("input", cfg.Input),
		logger.Int("districts", len(election.Districts)),
		logger.Int("parties", len(election.Parties)),
		logger.String("fingerprint", election.Fingerprint()))

	if cfg.Output == OutputBAZI {
		return writeBAZI(out, election, cfg.Charset)
	}

	var c computer = localEngine{engine: apportion.NewEngine(append([]apportion.Option{
		apportion.WithLogger(log.Named("engine")),
	}, cfg.Engine...)...)}
	if cfg.URL != "" {
		c = newRemoteClient(cfg.URL, cfg.Timeout)
	}

	start := time.Now()
	if cfg.UpperOnly {
		up, err := c.Upper(ctx, election)
		if err != nil {
			return fmt.Errorf("upper apportionment: %w", err)
		}
		log.Debug(ctx, "upper apportionment done",
			logger.Duration("took", time.Since(start)),
			logger.Int("deviation", up.Deviation))
		return writeReport(out, cfg.Output, upperReport(election.Title, up))
	}

	res, err := c.Apportion(ctx, election)
	if err != nil {
		return fmt.Errorf("apportionment: %w", err)
	}
	log.Debug(ctx, "apportionment done",
		logger.Duration("took", time.Since(start)),
		logger.Int("iterations", res.Iterations))

	if err := writeReport(out, cfg.Output, fullReport(election.Title, res)); err != nil {
		return err
	}

	if cfg.Reference != "" {
		ref, err := loadReference(cfg.Reference)
		if err != nil {
			return err
		}
		if err := bazi.Verify(res.Seats, ref); err != nil {
			var mismatch *bazi.MismatchError
			if errors.As(err, &mismatch) {
				log.Warn(ctx, "seats differ from reference", logger.Int("cells", len(mismatch.Cells)))
			}
			return fmt.Errorf("verify against %s: %w", cfg.Reference, err)
		}
		log.Info(ctx, "seats match reference", logger.String("reference", cfg.Reference))
	}
	return nil
}

// ShowHelp writes the usage text.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `Biproportional Apportionment Tool
=================================

Reads an election and distributes the seats of every district among the
parties so that district and party totals are both met.

Usage:
  apportion [options] <election file | ->

Options:
  -f, --format string       input format: auto, yaml, json or bazi (default "auto")
  -o, --output string       output format: table, json, yaml or bazi (default "table")
      --charset string      BAZI charset: utf-8, cp1252 or latin1 (default "utf-8")
      --upper-only          stop after the national party seats
      --verify string       seat table (district -> party -> seats) to compare with
      --url string          compute on a running service instead of locally
      --timeout duration    HTTP timeout for --url (default 30s)
      --max-iterations int  alternation rounds before giving up
      --party-step float    relative step of the party divisor scan
      --log-level string    debug, info, warn or error (default "warn")
  -h, --help                show this help message

Examples:
  # Apportion a YAML election and print the seat table
  apportion election.yaml

  # Read a BAZI file written on Windows and print YAML
  apportion --charset cp1252 -o yaml zurich.bazi

  # Check the result against published seats
  apportion --verify published.yaml election.yaml

  # Convert a JSON election to a BAZI block
  apportion -o bazi election.json > election.bazi
`)
}
