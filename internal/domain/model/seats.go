package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// DivisorState is the only mutable value of an apportionment run: one divisor
// per district and one per party, indexed like the vote matrix.
type DivisorState struct {
	District []float64 `json:"district"`
	Party    []float64 `json:"party"`
}

// Clone returns a deep copy.
func (s DivisorState) Clone() DivisorState {
	return DivisorState{
		District: append([]float64(nil), s.District...),
		Party:    append([]float64(nil), s.Party...),
	}
}

// Signature hashes the exact bit patterns of all divisors. Two states with the
// same signature project to the same seat matrix.
func (s DivisorState) Signature() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, v := range s.District {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	// separator keeps {a,b}|{c} distinct from {a}|{b,c}
	_, _ = h.Write([]byte{0xff})
	for _, v := range s.Party {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// SeatMatrix holds the seats of every district/party cell. It is always
// derived from a vote matrix and a divisor state.
type SeatMatrix struct {
	Districts []string `json:"districts"`
	Parties   []string `json:"parties"`
	Cells     [][]int  `json:"cells"`
}

// NewSeatMatrix allocates an all-zero matrix.
func NewSeatMatrix(districts, parties []string) SeatMatrix {
	cells := make([][]int, len(districts))
	for i := range cells {
		cells[i] = make([]int, len(parties))
	}
	return SeatMatrix{
		Districts: append([]string(nil), districts...),
		Parties:   append([]string(nil), parties...),
		Cells:     cells,
	}
}

// Clone returns a deep copy.
func (m SeatMatrix) Clone() SeatMatrix {
	out := NewSeatMatrix(m.Districts, m.Parties)
	for i := range m.Cells {
		copy(out.Cells[i], m.Cells[i])
	}
	return out
}

// RowSums returns the seats per district.
func (m SeatMatrix) RowSums() []int {
	out := make([]int, len(m.Cells))
	for i, row := range m.Cells {
		for _, s := range row {
			out[i] += s
		}
	}
	return out
}

// ColumnSums returns the seats per party.
func (m SeatMatrix) ColumnSums() []int {
	out := make([]int, len(m.Parties))
	for _, row := range m.Cells {
		for j, s := range row {
			out[j] += s
		}
	}
	return out
}

// Total returns all seats in the matrix.
func (m SeatMatrix) Total() int {
	total := 0
	for _, s := range m.RowSums() {
		total += s
	}
	return total
}

// Seat looks a cell up by its keys.
func (m SeatMatrix) Seat(districtID, partyID string) (int, bool) {
	for i, d := range m.Districts {
		if d != districtID {
			continue
		}
		for j, p := range m.Parties {
			if p == partyID {
				return m.Cells[i][j], true
			}
		}
	}
	return 0, false
}

// Equal reports whether both matrices have the same keys and cells.
func (m SeatMatrix) Equal(o SeatMatrix) bool {
	if !slices.Equal(m.Districts, o.Districts) || !slices.Equal(m.Parties, o.Parties) {
		return false
	}
	if len(m.Cells) != len(o.Cells) {
		return false
	}
	for i := range m.Cells {
		if !slices.Equal(m.Cells[i], o.Cells[i]) {
			return false
		}
	}
	return true
}

// PartyTotals returns seats per party keyed by party ID.
func (m SeatMatrix) PartyTotals() map[string]int {
	sums := m.ColumnSums()
	out := make(map[string]int, len(sums))
	for j, p := range m.Parties {
		out[p] = sums[j]
	}
	return out
}

// Targets are the marginal seat vectors an apportionment must meet.
type Targets struct {
	District []int `json:"district"`
	Party    []int `json:"party"`
}

// Check verifies that both vectors distribute the same number of seats.
func (t Targets) Check() error {
	var ds, ps int
	for _, s := range t.District {
		if s < 0 {
			return fmt.Errorf("%w: district target %d", ErrNegativeValue, s)
		}
		ds += s
	}
	for _, s := range t.Party {
		if s < 0 {
			return fmt.Errorf("%w: party target %d", ErrNegativeValue, s)
		}
		ps += s
	}
	if ds != ps {
		return fmt.Errorf("district targets sum to %d but party targets sum to %d", ds, ps)
	}
	return nil
}

// Met reports whether the seat matrix satisfies both marginals.
func (t Targets) Met(m SeatMatrix) bool {
	return slices.Equal(m.RowSums(), t.District) && slices.Equal(m.ColumnSums(), t.Party)
}
