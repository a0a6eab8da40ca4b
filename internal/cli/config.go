package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/biprop/internal/adapters/bazi"
	"github.com/okian/biprop/internal/domain/apportion"
)

// Input formats.
const (
	FormatAuto = "auto"
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatBAZI = "bazi"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
	OutputBAZI  = "bazi"
)

// Config holds the options of one CLI invocation.
type Config struct {
	Input     string        // election file, "-" for stdin
	Format    string        // input format
	Output    string        // output format
	Charset   string        // BAZI charset for input and export
	Reference string        // optional seat table to verify against
	UpperOnly bool          // stop after the upper apportionment
	URL       string        // compute on a running service instead of locally
	Timeout   time.Duration // HTTP timeout for URL
	Engine    []apportion.Option
}

// Validate rejects unknown formats and missing input.
func (c *Config) Validate() error {
	var problems []string
	if c.Input == "" {
		problems = append(problems, "input is required")
	}
	switch c.Format {
	case FormatAuto, FormatYAML, FormatJSON, FormatBAZI:
	default:
		problems = append(problems, "format must be auto, yaml, json or bazi")
	}
	switch c.Output {
	case OutputTable, OutputJSON, OutputYAML, OutputBAZI:
	default:
		problems = append(problems, "output must be table, json, yaml or bazi")
	}
	if _, err := bazi.ParseCharset(c.Charset); err != nil {
		problems = append(problems, err.Error())
	}
	if c.UpperOnly && c.Reference != "" {
		problems = append(problems, "reference needs the full apportionment, not upper only")
	}
	if c.Output == OutputBAZI && (c.UpperOnly || c.Reference != "") {
		problems = append(problems, "bazi output converts the election and computes nothing")
	}
	if c.URL != "" && c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
