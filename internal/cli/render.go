package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/okian/biprop/internal/adapters/bazi"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// report is the machine readable output of one invocation.
type report struct {
	Title      string                 `json:"title,omitempty"`
	Seats      *model.SeatMatrix      `json:"seats,omitempty"`
	Divisors   *model.DivisorState    `json:"divisors,omitempty"`
	Targets    *model.Targets         `json:"targets,omitempty"`
	Iterations int                    `json:"iterations,omitempty"`
	Stats      *apportion.Stats       `json:"stats,omitempty"`
	Upper      *apportion.UpperResult `json:"upper,omitempty"`
	Balanced   *bool                  `json:"balanced,omitempty"`
}

func fullReport(title string, res *apportion.Result) report {
	return report{
		Title:      title,
		Seats:      &res.Seats,
		Divisors:   &res.State,
		Targets:    &res.Targets,
		Iterations: res.Iterations,
		Stats:      &res.Stats,
		Upper:      res.Upper,
	}
}

func upperReport(title string, up apportion.UpperResult) report { //nolint:gocritic // hugeParam: read-only input
	balanced := up.Balanced()
	return report{Title: title, Upper: &up, Balanced: &balanced}
}

func writeReport(w io.Writer, output string, r report) error { //nolint:gocritic // hugeParam: read-only input
	switch output {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case OutputYAML:
		return writeYAML(w, r)
	default:
		if r.Seats != nil {
			return writeSeatTable(w, r)
		}
		return writeUpperTable(w, r)
	}
}

// writeYAML emits the report with its JSON field names. Rows of scalars stay
// in flow style so seat rows read like the table.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	blockStyle(&doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		n.Style = 0
	case yaml.SequenceNode:
		flat := true
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				flat = false
			}
		}
		if !flat {
			n.Style = 0
		}
	default:
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func formatDivisor(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

func writeSeatTable(w io.Writer, r report) error { //nolint:gocritic // hugeParam: read-only input
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	seats := r.Seats

	if r.Title != "" {
		if _, err := fmt.Fprintf(w, "%s\n", r.Title); err != nil {
			return err
		}
	}
	fmt.Fprint(tw, "District\t")
	for _, p := range seats.Parties {
		fmt.Fprintf(tw, "%s\t", p)
	}
	fmt.Fprint(tw, "Seats\tDivisor\t\n")

	rows := seats.RowSums()
	for d, district := range seats.Districts {
		fmt.Fprintf(tw, "%s\t", district)
		for _, n := range seats.Cells[d] {
			fmt.Fprintf(tw, "%d\t", n)
		}
		fmt.Fprintf(tw, "%d\t%s\t\n", rows[d], formatDivisor(r.Divisors.District[d]))
	}

	fmt.Fprint(tw, "Total\t")
	for _, n := range seats.ColumnSums() {
		fmt.Fprintf(tw, "%d\t", n)
	}
	fmt.Fprintf(tw, "%d\t\t\n", seats.Total())

	fmt.Fprint(tw, "Divisor\t")
	for _, v := range r.Divisors.Party {
		fmt.Fprintf(tw, "%s\t", formatDivisor(v))
	}
	fmt.Fprint(tw, "\t\t\n")

	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "converged after %d iterations\n", r.Iterations)
	return err
}

func writeUpperTable(w io.Writer, r report) error { //nolint:gocritic // hugeParam: read-only input
	up := r.Upper
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	if r.Title != "" {
		if _, err := fmt.Fprintf(w, "%s\n", r.Title); err != nil {
			return err
		}
	}
	fmt.Fprint(tw, "Party\tWeighted\tSeats\t\n")
	for i, p := range up.Parties {
		fmt.Fprintf(tw, "%s\t%d\t%d\t\n", p, up.Weighted[i], up.Seats[i])
	}
	fmt.Fprintf(tw, "Total\t\t%d\t\n", up.TotalSeats+up.Deviation)
	if err := tw.Flush(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "divisor %s\n", formatDivisor(up.Divisor)); err != nil {
		return err
	}
	if !up.Balanced() {
		_, err := fmt.Fprintf(w, "unbalanced: %+d seats against %d available\n", up.Deviation, up.TotalSeats)
		return err
	}
	return nil
}

func writeBAZI(w io.Writer, e model.Election, charset string) error { //nolint:gocritic // hugeParam: read-only input
	return bazi.Encode(w, bazi.FromElection(e), bazi.WithCharset(charset))
}
