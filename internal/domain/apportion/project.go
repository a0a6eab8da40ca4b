package apportion

import (
	"fmt"
	"math"

	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/internal/domain/rounding"
)

// cellSeats is the only place a cell quotient is formed.
func cellSeats(votes int64, districtDiv, partyDiv float64) int {
	return rounding.HalfEven(float64(votes) / (districtDiv * partyDiv))
}

// rowSeats sums district d with district divisor div and the current party
// divisors.
func rowSeats(vm *model.VoteMatrix, state model.DivisorState, d int, div float64) int {
	sum := 0
	for p := range state.Party {
		sum += cellSeats(vm.Votes(d, p), div, state.Party[p])
	}
	return sum
}

// columnSeats sums party p with party divisor div and the current district
// divisors.
func columnSeats(vm *model.VoteMatrix, state model.DivisorState, p int, div float64) int {
	sum := 0
	for d := range state.District {
		sum += cellSeats(vm.Votes(d, p), state.District[d], div)
	}
	return sum
}

// Project derives the seat matrix of a divisor state. It is pure: the same
// inputs always give the same matrix.
func Project(vm *model.VoteMatrix, state model.DivisorState) (model.SeatMatrix, error) {
	if vm == nil {
		return model.SeatMatrix{}, configErr("project", fmt.Errorf("%w: no vote matrix", model.ErrDimension))
	}
	if err := checkState(vm, state); err != nil {
		return model.SeatMatrix{}, err
	}
	seats := model.NewSeatMatrix(vm.DistrictIDs(), vm.PartyIDs())
	for d := range seats.Cells {
		projectRow(vm, state, d, seats.Cells[d])
	}
	return seats, nil
}

func projectRow(vm *model.VoteMatrix, state model.DivisorState, d int, dst []int) {
	for p := range dst {
		dst[p] = cellSeats(vm.Votes(d, p), state.District[d], state.Party[p])
	}
}

func projectColumn(vm *model.VoteMatrix, state model.DivisorState, p int, seats model.SeatMatrix) {
	for d := range seats.Cells {
		seats.Cells[d][p] = cellSeats(vm.Votes(d, p), state.District[d], state.Party[p])
	}
}

func checkState(vm *model.VoteMatrix, state model.DivisorState) error {
	if len(state.District) != vm.NumDistricts() || len(state.Party) != vm.NumParties() {
		return configErr("project", fmt.Errorf("%w: state has %dx%d divisors for a %dx%d matrix",
			model.ErrDimension, len(state.District), len(state.Party), vm.NumDistricts(), vm.NumParties()))
	}
	for d, v := range state.District {
		if !validDivisor(v) {
			return configErr("project", fmt.Errorf("district %d has divisor %v", d, v))
		}
	}
	for p, v := range state.Party {
		if !validDivisor(v) {
			return configErr("project", fmt.Errorf("party %d has divisor %v", p, v))
		}
	}
	return nil
}

func validDivisor(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
