package apportion

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/pkg/logger"
)

// Engine runs apportionments. It holds only configuration; every call owns
// its own divisor state, so one Engine may serve concurrent calls.
type Engine struct {
	maxIterations    int
	maxWidenings     int
	maxBisections    int
	partyStep        float64
	partyRefinements int
	logger           logger.Logger
}

// NewEngine creates an engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxIterations:    DefaultMaxIterations,
		maxWidenings:     DefaultMaxWidenings,
		maxBisections:    DefaultMaxBisections,
		partyStep:        DefaultPartyStep,
		partyRefinements: DefaultPartyRefinements,
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats counts the work done by one run.
type Stats struct {
	DistrictSearches int `json:"district_searches"`
	PartySearches    int `json:"party_searches"`
	Widenings        int `json:"widenings"`
	Refinements      int `json:"refinements"`
}

// Result is a successful apportionment. Seats equals Project(vm, State) and
// meets both target vectors.
type Result struct {
	Seats      model.SeatMatrix
	State      model.DivisorState
	Targets    model.Targets
	Iterations int
	Stats      Stats
	// Upper is set when the party targets came from the upper apportionment.
	Upper *UpperResult
}

// Outcome converts the result to its stored form.
func (r *Result) Outcome() model.Outcome {
	return model.Outcome{
		Seats:      r.Seats,
		State:      r.State,
		Targets:    r.Targets,
		Iterations: r.Iterations,
	}
}

// run is the state of one lower apportionment.
type run struct {
	*Engine
	vm          *model.VoteMatrix
	state       model.DivisorState
	seats       model.SeatMatrix
	targets     model.Targets
	districtIDs []string
	partyIDs    []string
	stats       Stats
}

// Run apportions an election: explicit party seats when the election carries
// them, otherwise party seats from the upper apportionment.
func (e *Engine) Run(ctx context.Context, election model.Election) (*Result, error) {
	vm, err := model.NewVoteMatrixFromElection(election)
	if err != nil {
		return nil, configErr("vote matrix", err)
	}
	if !election.HasPartySeats() {
		return e.Apportion(ctx, vm)
	}
	partySeats, err := election.PartySeatVector()
	if err != nil {
		return nil, configErr("party seats", err)
	}
	return e.Lower(ctx, vm, partySeats)
}

// Upper runs the upper apportionment and logs an unbalanced result.
func (e *Engine) Upper(ctx context.Context, vm *model.VoteMatrix) (UpperResult, error) {
	up, err := Upper(vm)
	if err != nil {
		return UpperResult{}, err
	}
	if !up.Balanced() {
		e.logger.Warn(ctx, "upper apportionment misses the seat total",
			logger.Int("total_seats", up.TotalSeats),
			logger.Int("deviation", up.Deviation),
			logger.Ints("party_seats", up.Seats),
		)
	}
	return up, nil
}

// Apportion runs the upper apportionment and feeds its party seats to the
// lower apportionment. An unbalanced upper result is a configuration error.
func (e *Engine) Apportion(ctx context.Context, vm *model.VoteMatrix) (*Result, error) {
	up, err := e.Upper(ctx, vm)
	if err != nil {
		return nil, err
	}
	if !up.Balanced() {
		return nil, configErr(fmt.Sprintf("party seats sum to %d for %d seats",
			up.TotalSeats+up.Deviation, up.TotalSeats), ErrUnbalancedUpper)
	}
	res, err := e.Lower(ctx, vm, up.Seats)
	if err != nil {
		return nil, err
	}
	res.Upper = &up
	return res, nil
}

// Lower finds district and party divisors whose projection meets the district
// seats of vm and partySeats simultaneously. It alternates a district phase
// and a party phase until both margins hold, the iteration cap is reached, or
// a divisor state repeats.
func (e *Engine) Lower(ctx context.Context, vm *model.VoteMatrix, partySeats []int) (*Result, error) {
	r, err := e.setup(vm, partySeats)
	if err != nil {
		return nil, err
	}
	return r.converge(ctx, r.step)
}

// converge repeats step until both margins hold, the iteration cap is reached,
// or a divisor state repeats.
func (r *run) converge(ctx context.Context, step func(context.Context) error) (*Result, error) {
	seen := make(map[uint64]int)
	for it := 0; it < r.maxIterations; it++ {
		if r.targets.Met(r.seats) {
			return r.result(ctx, it), nil
		}

		sig := r.state.Signature()
		if first, ok := seen[sig]; ok {
			r.logger.Warn(ctx, "divisor state repeated",
				logger.Int("iteration", it),
				logger.Int("first_seen", first),
			)
			return nil, r.nonConvergence(it, true)
		}
		seen[sig] = it

		if err := step(ctx); err != nil {
			return nil, err
		}
		r.logger.Debug(ctx, "iteration complete",
			logger.Int("iteration", it+1),
			logger.Ints("district_seats", r.seats.RowSums()),
			logger.Ints("party_seats", r.seats.ColumnSums()),
		)
	}

	if r.targets.Met(r.seats) {
		return r.result(ctx, r.maxIterations), nil
	}
	r.logger.Warn(ctx, "iteration cap reached", logger.Int("max_iterations", r.maxIterations))
	return nil, r.nonConvergence(r.maxIterations, false)
}

// step is one alternation round: a district phase, then a party phase.
func (r *run) step(ctx context.Context) error {
	if err := r.districtPhase(ctx); err != nil {
		return err
	}
	return r.partyPhase(ctx)
}

// setup validates the targets and builds the initial divisor state: district
// divisor = district votes / district seats, party divisors = 1. A district
// without seats starts from a divisor that rounds every cell of its row to 0.
func (e *Engine) setup(vm *model.VoteMatrix, partySeats []int) (*run, error) {
	if vm == nil {
		return nil, configErr("lower apportionment", errors.New("vote matrix not set"))
	}
	if len(partySeats) != vm.NumParties() {
		return nil, configErr("lower apportionment", fmt.Errorf("%w: %d party targets for %d parties",
			model.ErrDimension, len(partySeats), vm.NumParties()))
	}

	targets := model.Targets{
		District: vm.DistrictSeats(),
		Party:    append([]int(nil), partySeats...),
	}
	if err := targets.Check(); err != nil {
		return nil, configErr("seat totals", err)
	}

	r := &run{
		Engine:      e,
		vm:          vm,
		targets:     targets,
		districtIDs: vm.DistrictIDs(),
		partyIDs:    vm.PartyIDs(),
		state: model.DivisorState{
			District: make([]float64, vm.NumDistricts()),
			Party:    make([]float64, vm.NumParties()),
		},
	}
	for d, seats := range targets.District {
		votes := vm.RowTotal(d)
		switch {
		case seats == 0:
			r.state.District[d] = emptyDistrictDivisor(vm, d)
			continue
		case votes == 0:
			return nil, configErr("district divisor",
				fmt.Errorf("district %q has %d seats but no votes", r.districtIDs[d], seats))
		}
		r.state.District[d] = float64(votes) / float64(seats)
	}
	for p, seats := range targets.Party {
		if seats > 0 && vm.ColumnTotal(p) == 0 {
			return nil, configErr("party divisor",
				fmt.Errorf("party %q has %d seats but no votes", r.partyIDs[p], seats))
		}
		r.state.Party[p] = 1
	}

	seats, err := Project(vm, r.state)
	if err != nil {
		return nil, err
	}
	r.seats = seats
	return r, nil
}

// emptyDistrictDivisor exceeds twice the largest cell of row d, so every
// quotient stays below one half while party divisors are 1.
func emptyDistrictDivisor(vm *model.VoteMatrix, d int) float64 {
	var most int64
	for p := 0; p < vm.NumParties(); p++ {
		most = max(most, vm.Votes(d, p))
	}
	return float64(2*most + 1)
}

// districtPhase fixes every district whose row misses its target. Rows only
// depend on their own district divisor, so one pass settles all of them.
func (r *run) districtPhase(ctx context.Context) error {
	rows := r.seats.RowSums()
	for d, target := range r.targets.District {
		if rows[d] == target {
			continue
		}
		if err := r.fixDistrict(ctx, d); err != nil {
			return err
		}
	}
	return r.reproject()
}

// partyPhase fixes every party whose column misses its target.
func (r *run) partyPhase(ctx context.Context) error {
	cols := r.seats.ColumnSums()
	for p, target := range r.targets.Party {
		if cols[p] == target {
			continue
		}
		if err := r.fixParty(ctx, p); err != nil {
			return err
		}
	}
	return r.reproject()
}

func (r *run) reproject() error {
	seats, err := Project(r.vm, r.state)
	if err != nil {
		return err
	}
	r.seats = seats
	return nil
}

func (r *run) result(ctx context.Context, iterations int) *Result {
	r.logger.Info(ctx, "apportionment converged",
		logger.Int("iterations", iterations),
		logger.Int("district_searches", r.stats.DistrictSearches),
		logger.Int("party_searches", r.stats.PartySearches),
		logger.Int("seats", r.seats.Total()),
	)
	return &Result{
		Seats:      r.seats.Clone(),
		State:      r.state.Clone(),
		Targets:    r.targets,
		Iterations: iterations,
		Stats:      r.stats,
	}
}

func (r *run) nonConvergence(iterations int, cycle bool) error {
	return &NonConvergenceError{
		Iterations: iterations,
		Cycle:      cycle,
		Seats:      r.seats.Clone(),
		State:      r.state.Clone(),
	}
}
