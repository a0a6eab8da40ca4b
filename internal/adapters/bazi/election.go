package bazi

import (
	"fmt"

	"github.com/okian/biprop/internal/domain/model"
)

// FromElection lays an election out as one district block per district,
// parties in election order. Party IDs become the party names of the file.
func FromElection(e model.Election) Document {
	blocks := make([]DistrictBlock, 0, len(e.Districts))
	for _, d := range e.Districts {
		block := DistrictBlock{Name: d.ID, Seats: d.Seats}
		for _, p := range e.Parties {
			block.Votes = append(block.Votes, PartyVotes{Party: p.ID, Votes: e.Votes[p.ID][d.ID]})
		}
		blocks = append(blocks, block)
	}
	return NewDocument(e.Title, blocks)
}

// Election converts the document back. Parties are ordered by first
// appearance; a party missing from a district block has zero votes there.
func (doc Document) Election() (model.Election, error) {
	if err := doc.validate(); err != nil {
		return model.Election{}, err
	}
	e := model.Election{
		Title: doc.Title,
		Votes: make(map[string]map[string]int64),
	}
	for _, d := range doc.Districts {
		e.Districts = append(e.Districts, model.District{ID: d.Name, Seats: d.Seats})
		for _, pv := range d.Votes {
			row, ok := e.Votes[pv.Party]
			if !ok {
				row = make(map[string]int64, len(doc.Districts))
				e.Votes[pv.Party] = row
				e.Parties = append(e.Parties, model.Party{ID: pv.Party, Name: pv.Party})
			}
			row[d.Name] = pv.Votes
		}
	}
	for _, p := range e.Parties {
		for _, d := range doc.Districts {
			if _, ok := e.Votes[p.ID][d.Name]; !ok {
				e.Votes[p.ID][d.Name] = 0
			}
		}
	}
	return e, nil
}

// Verify compares engine seats with a reference seat table keyed
// district -> party. Cells absent from the reference count as zero seats.
func Verify(seats model.SeatMatrix, reference map[string]map[string]int) error {
	for district, row := range reference {
		for party := range row {
			if _, ok := seats.Seat(district, party); !ok {
				return fmt.Errorf("%w: %s/%s", ErrUnknownCell, district, party)
			}
		}
	}

	var diff []Mismatch
	for d, district := range seats.Districts {
		for p, party := range seats.Parties {
			got := seats.Cells[d][p]
			want := reference[district][party]
			if got != want {
				diff = append(diff, Mismatch{District: district, Party: party, Got: got, Want: want})
			}
		}
	}
	if len(diff) > 0 {
		return &MismatchError{Cells: diff}
	}
	return nil
}
