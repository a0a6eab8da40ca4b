package apportion

import (
	"errors"
	"fmt"

	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/internal/domain/rounding"
)

// ErrUnbalancedUpper is wrapped when the single divisor misses the seat total.
var ErrUnbalancedUpper = errors.New("upper apportionment does not match the seat total")

// UpperResult is the national party seat vector.
type UpperResult struct {
	Parties    []string `json:"parties"`
	Seats      []int    `json:"seats"`
	Weighted   []int64  `json:"weighted_votes"`
	Divisor    float64  `json:"divisor"`
	TotalSeats int      `json:"total_seats"`
	// Deviation is sum(Seats) - TotalSeats. Rounding with one divisor can
	// miss the total by a seat; callers must not ignore a non-zero value.
	Deviation int `json:"deviation"`
}

// Balanced reports whether the party seats add up to the seats available.
func (u UpperResult) Balanced() bool { return u.Deviation == 0 }

// SeatMap returns party seats keyed by party ID.
func (u UpperResult) SeatMap() map[string]int {
	out := make(map[string]int, len(u.Parties))
	for i, p := range u.Parties {
		out[p] = u.Seats[i]
	}
	return out
}

// Upper derives national party seat targets. Every party's votes are first
// normalised to votes per seat of their district, then summed nationally and
// divided by one global divisor.
func Upper(vm *model.VoteMatrix) (UpperResult, error) {
	if vm == nil {
		return UpperResult{}, configErr("upper apportionment", errors.New("vote matrix not set"))
	}

	nd, np := vm.NumDistricts(), vm.NumParties()
	districts := vm.Districts()
	weighted := make([]int64, np)
	for d := 0; d < nd; d++ {
		seats := districts[d].Seats
		if seats <= 0 {
			return UpperResult{}, configErr("upper apportionment",
				fmt.Errorf("district %q has no seats to normalise by", districts[d].ID))
		}
		for p := 0; p < np; p++ {
			weighted[p] += rounding.HalfEven64(float64(vm.Votes(d, p)) / float64(seats))
		}
	}

	var sum int64
	for _, w := range weighted {
		sum += w
	}
	total := vm.TotalSeats()
	if sum == 0 {
		return UpperResult{}, configErr("upper apportionment", errors.New("no weighted votes"))
	}

	divisor := float64(sum) / float64(total)
	res := UpperResult{
		Parties:    vm.PartyIDs(),
		Seats:      make([]int, np),
		Weighted:   weighted,
		Divisor:    divisor,
		TotalSeats: total,
	}
	allocated := 0
	for p, w := range weighted {
		res.Seats[p] = rounding.HalfEven(float64(w) / divisor)
		allocated += res.Seats[p]
	}
	if len(res.Seats) == 0 {
		return UpperResult{}, configErr("upper apportionment", errors.New("empty party seat vector"))
	}
	res.Deviation = allocated - total
	return res, nil
}
