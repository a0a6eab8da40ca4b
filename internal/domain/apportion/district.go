package apportion

import (
	"context"
	"fmt"

	"github.com/okian/biprop/pkg/logger"
)

// fixDistrict searches a district divisor that gives row d exactly its target
// while party divisors stay fixed. A larger district divisor never adds seats
// to the row, so a bracket whose ends enclose the target can be bisected.
// The bracket is [cur/c, cur] for a short row and [cur, cur*c] for a full one,
// with c starting at 2 and doubling after every failed bracket.
func (r *run) fixDistrict(ctx context.Context, d int) error {
	target := r.targets.District[d]
	cur := r.state.District[d]
	if !validDivisor(cur) {
		return configErr("district divisor search",
			fmt.Errorf("district %q starts from divisor %v", r.districtIDs[d], cur))
	}

	got := rowSeats(r.vm, r.state, d, cur)
	counter := 2.0
	for attempt := 1; attempt <= r.maxWidenings; attempt++ {
		lo, hi := cur, cur*counter
		if got < target {
			lo, hi = cur/counter, cur
		}
		if div, ok := r.bisectDistrict(d, target, lo, hi); ok {
			r.state.District[d] = div
			projectRow(r.vm, r.state, d, r.seats.Cells[d])
			r.stats.DistrictSearches++
			r.stats.Widenings += attempt - 1
			r.logger.Debug(ctx, "district divisor found",
				logger.String("district", r.districtIDs[d]),
				logger.Float64("from", cur),
				logger.Float64("to", div),
				logger.Int("seats", target),
				logger.Int("attempts", attempt),
			)
			return nil
		}
		counter *= 2
	}

	return &SearchExhaustedError{
		Axis:     AxisDistrict,
		Key:      r.districtIDs[d],
		Target:   target,
		Got:      got,
		Attempts: r.maxWidenings,
	}
}

// bisectDistrict evaluates candidate divisors without touching the run state,
// so a failed bracket leaves the old divisor and row in place.
func (r *run) bisectDistrict(d, target int, lo, hi float64) (float64, bool) {
	seatsLo := rowSeats(r.vm, r.state, d, lo)
	if seatsLo == target {
		return lo, true
	}
	seatsHi := rowSeats(r.vm, r.state, d, hi)
	if seatsHi == target {
		return hi, true
	}
	if seatsLo < target || seatsHi > target {
		// target not inside the bracket
		return 0, false
	}

	for i := 0; i < r.maxBisections; i++ {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			break
		}
		switch seats := rowSeats(r.vm, r.state, d, mid); {
		case seats == target:
			return mid, true
		case seats < target:
			hi = mid
		default:
			lo = mid
		}
	}
	return 0, false
}
