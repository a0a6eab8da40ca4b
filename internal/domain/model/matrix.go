package model

// VoteMatrix is the immutable district x party vote table of one run.
// Rows follow the district order and columns the party order given at
// construction.
type VoteMatrix struct {
	districts []District
	parties   []Party
	cells     [][]int64
	rowTotals []int64
	colTotals []int64
	dIndex    map[string]int
	pIndex    map[string]int
}

// NewVoteMatrix validates the input and builds the matrix. The key sets of
// votes must match the district and party sets exactly.
func NewVoteMatrix(districts []District, parties []Party, votes map[string]map[string]int64) (*VoteMatrix, error) {
	if len(districts) == 0 || len(parties) == 0 {
		return nil, ErrEmptyInput
	}

	vm := &VoteMatrix{
		districts: append([]District(nil), districts...),
		parties:   append([]Party(nil), parties...),
		dIndex:    make(map[string]int, len(districts)),
		pIndex:    make(map[string]int, len(parties)),
	}
	for i, d := range districts {
		if _, dup := vm.dIndex[d.ID]; dup {
			return nil, &KeyError{Kind: ErrDuplicateID, Key: "district " + d.ID}
		}
		if d.Seats < 0 {
			return nil, &KeyError{Kind: ErrNegativeValue, Key: "district " + d.ID}
		}
		vm.dIndex[d.ID] = i
	}
	for j, p := range parties {
		if _, dup := vm.pIndex[p.ID]; dup {
			return nil, &KeyError{Kind: ErrDuplicateID, Key: "party " + p.ID}
		}
		vm.pIndex[p.ID] = j
	}
	for partyID, row := range votes {
		if _, ok := vm.pIndex[partyID]; !ok {
			return nil, &KeyError{Kind: ErrUnknownKey, Key: "party " + partyID}
		}
		for districtID := range row {
			if _, ok := vm.dIndex[districtID]; !ok {
				return nil, &KeyError{Kind: ErrUnknownKey, Key: "district " + districtID + " (party " + partyID + ")"}
			}
		}
	}

	vm.cells = make([][]int64, len(districts))
	vm.rowTotals = make([]int64, len(districts))
	vm.colTotals = make([]int64, len(parties))
	for i, d := range districts {
		vm.cells[i] = make([]int64, len(parties))
		for j, p := range parties {
			row, ok := votes[p.ID]
			if !ok {
				return nil, &KeyError{Kind: ErrMissingCell, Key: "party " + p.ID}
			}
			v, ok := row[d.ID]
			if !ok {
				return nil, &KeyError{Kind: ErrMissingCell, Key: p.ID + "/" + d.ID}
			}
			if v < 0 {
				return nil, &KeyError{Kind: ErrNegativeValue, Key: p.ID + "/" + d.ID}
			}
			vm.cells[i][j] = v
			vm.rowTotals[i] += v
			vm.colTotals[j] += v
		}
	}
	return vm, nil
}

// NewVoteMatrixFromElection builds the matrix of an election.
func NewVoteMatrixFromElection(e Election) (*VoteMatrix, error) {
	return NewVoteMatrix(e.Districts, e.Parties, e.Votes)
}

// Districts returns the row descriptors.
func (m *VoteMatrix) Districts() []District { return append([]District(nil), m.districts...) }

// Parties returns the column descriptors.
func (m *VoteMatrix) Parties() []Party { return append([]Party(nil), m.parties...) }

// NumDistricts returns the row count.
func (m *VoteMatrix) NumDistricts() int { return len(m.districts) }

// NumParties returns the column count.
func (m *VoteMatrix) NumParties() int { return len(m.parties) }

// Votes returns the cell at row d, column p.
func (m *VoteMatrix) Votes(d, p int) int64 { return m.cells[d][p] }

// RowTotal returns all votes cast in district d.
func (m *VoteMatrix) RowTotal(d int) int64 { return m.rowTotals[d] }

// ColumnTotal returns all votes of party p.
func (m *VoteMatrix) ColumnTotal(p int) int64 { return m.colTotals[p] }

// DistrictSeats returns the district seat targets in row order.
func (m *VoteMatrix) DistrictSeats() []int {
	out := make([]int, len(m.districts))
	for i, d := range m.districts {
		out[i] = d.Seats
	}
	return out
}

// TotalSeats returns the number of seats available.
func (m *VoteMatrix) TotalSeats() int {
	total := 0
	for _, d := range m.districts {
		total += d.Seats
	}
	return total
}

// DistrictIDs returns the row keys.
func (m *VoteMatrix) DistrictIDs() []string {
	out := make([]string, len(m.districts))
	for i, d := range m.districts {
		out[i] = d.ID
	}
	return out
}

// PartyIDs returns the column keys.
func (m *VoteMatrix) PartyIDs() []string {
	out := make([]string, len(m.parties))
	for j, p := range m.parties {
		out[j] = p.ID
	}
	return out
}
