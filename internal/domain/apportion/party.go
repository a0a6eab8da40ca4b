package apportion

import (
	"context"

	"github.com/okian/biprop/pkg/logger"
)

// scanOutcome classifies one stepped scan.
type scanOutcome int

const (
	scanMiss    scanOutcome = iota // range exhausted, margin still on the start side
	scanHit                        // exact target found
	scanCrossed                    // one step jumped over the target
)

type scanResult struct {
	outcome scanOutcome
	div     float64
	// prev and next bracket the crossing step when outcome is scanCrossed.
	prev, next float64
}

// fixParty searches a party divisor that gives column p exactly its target
// while district divisors stay fixed. The divisor is scanned in small steps
// away from its current value: downward when the party is short of seats,
// upward when it has too many. Attempt k covers the segment between cur*2^(k-1)
// and cur*2^k (or its downward mirror), so a widened range never rescans
// divisors already tried.
func (r *run) fixParty(ctx context.Context, p int) error {
	target := r.targets.Party[p]
	cur := r.state.Party[p]
	got := columnSeats(r.vm, r.state, p, cur)
	down := got < target

	start := cur
	refinements := 0
	for attempt := 1; attempt <= r.maxWidenings; attempt++ {
		bound := start * 2
		if down {
			bound = start / 2
		}

		res := r.scanParty(p, target, start, bound, start*r.partyStep)
		for res.outcome == scanCrossed && refinements < r.partyRefinements {
			refinements++
			step := abs(res.next-res.prev) / 10
			res = r.scanParty(p, target, res.prev, res.next, step)
		}

		switch res.outcome {
		case scanHit:
			r.state.Party[p] = res.div
			projectColumn(r.vm, r.state, p, r.seats)
			r.stats.PartySearches++
			r.stats.Widenings += attempt - 1
			r.stats.Refinements += refinements
			r.logger.Debug(ctx, "party divisor found",
				logger.String("party", r.partyIDs[p]),
				logger.Float64("from", cur),
				logger.Float64("to", res.div),
				logger.Int("seats", target),
				logger.Int("attempts", attempt),
				logger.Int("refinements", refinements),
			)
			return nil
		case scanCrossed:
			return &SearchExhaustedError{
				Axis:     AxisParty,
				Key:      r.partyIDs[p],
				Target:   target,
				Got:      got,
				Attempts: attempt,
				Tie:      true,
			}
		}
		start = bound
	}

	return &SearchExhaustedError{
		Axis:     AxisParty,
		Key:      r.partyIDs[p],
		Target:   target,
		Got:      got,
		Attempts: r.maxWidenings,
	}
}

// scanParty walks from start toward bound in fixed steps, re-evaluating the
// whole column after each step. The run state is only read.
func (r *run) scanParty(p, target int, start, bound, step float64) scanResult {
	down := bound < start
	prev := start
	for k := 1; ; k++ {
		div := start + float64(k)*step
		if down {
			div = start - float64(k)*step
		}
		if (down && div < bound) || (!down && div > bound) || div == prev {
			return scanResult{outcome: scanMiss}
		}

		seats := columnSeats(r.vm, r.state, p, div)
		if seats == target {
			return scanResult{outcome: scanHit, div: div}
		}
		if (down && seats > target) || (!down && seats < target) {
			return scanResult{outcome: scanCrossed, prev: prev, next: div}
		}
		prev = div
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
