// Package model contains domain models passed between layers.
package model

import (
	"cmp"
	"encoding/binary"
	"math"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Party is a list that competes for seats in every district.
type Party struct {
	ID   string `json:"id" koanf:"id"`
	Name string `json:"name,omitempty" koanf:"name"`
}

// District is an electoral unit with a fixed number of seats.
type District struct {
	ID    string `json:"id" koanf:"id"`
	Seats int    `json:"seats" koanf:"seats"`
}

// Election is the transport shape of one apportionment input.
// Votes are keyed party -> district -> count.
type Election struct {
	Title      string                      `json:"title,omitempty" koanf:"title"`
	Districts  []District                  `json:"districts" koanf:"districts"`
	Parties    []Party                     `json:"parties" koanf:"parties"`
	Votes      map[string]map[string]int64 `json:"votes" koanf:"votes"`
	PartySeats map[string]int              `json:"party_seats,omitempty" koanf:"party_seats"`
}

// HasPartySeats reports whether the election carries explicit party targets,
// in which case the upper apportionment is skipped.
func (e Election) HasPartySeats() bool {
	return len(e.PartySeats) > 0
}

// PartySeatVector returns the explicit party targets in party order.
func (e Election) PartySeatVector() ([]int, error) {
	out := make([]int, len(e.Parties))
	for i, p := range e.Parties {
		seats, ok := e.PartySeats[p.ID]
		if !ok {
			return nil, &KeyError{Kind: ErrMissingCell, Key: "party_seats." + p.ID}
		}
		if seats < 0 {
			return nil, &KeyError{Kind: ErrNegativeValue, Key: "party_seats." + p.ID}
		}
		out[i] = seats
	}
	if len(e.PartySeats) != len(e.Parties) {
		for id := range e.PartySeats {
			if !e.hasParty(id) {
				return nil, &KeyError{Kind: ErrUnknownKey, Key: "party_seats." + id}
			}
		}
	}
	return out, nil
}

func (e Election) hasParty(id string) bool {
	for _, p := range e.Parties {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Fingerprint hashes the canonicalised input: districts and parties are
// written in ID order, so reordering either list keeps the fingerprint. Two
// submissions with the same fingerprint produce the same seat matrix.
func (e Election) Fingerprint() string {
	h := xxhash.New()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	writeString := func(s string) {
		writeInt(int64(len(s)))
		_, _ = h.WriteString(s)
	}

	districts := slices.SortedFunc(slices.Values(e.Districts), func(a, b District) int {
		return cmp.Compare(a.ID, b.ID)
	})
	parties := slices.Sorted(slices.Values(e.partyIDs()))

	writeInt(int64(len(districts)))
	for _, d := range districts {
		writeString(d.ID)
		writeInt(int64(d.Seats))
	}
	writeInt(int64(len(parties)))
	for _, id := range parties {
		writeString(id)
		row := e.Votes[id]
		for _, d := range districts {
			v, ok := row[d.ID]
			if !ok {
				v = math.MinInt64
			}
			writeInt(v)
		}
	}
	if e.HasPartySeats() {
		for _, id := range parties {
			seats, ok := e.PartySeats[id]
			if !ok {
				seats = -1
			}
			writeInt(int64(seats))
		}
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (e Election) partyIDs() []string {
	out := make([]string, len(e.Parties))
	for i, p := range e.Parties {
		out[i] = p.ID
	}
	return out
}

// KeyError names the offending key of a malformed input.
type KeyError struct {
	Kind error
	Key  string
}

func (e *KeyError) Error() string {
	return e.Kind.Error() + ": " + e.Key
}

func (e *KeyError) Unwrap() error {
	return e.Kind
}
