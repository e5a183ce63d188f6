package memory

// Strategy captures the per-type update behavior from the update-strategy
// table: how a near-duplicate is handled, whether the type ever supersedes,
// and whether it participates in a single-current-node lineage chain.
type Strategy struct {
	// Supersedes reports whether a semantic near-duplicate should retire the
	// old memory and chain a new one (fact/state/policy), as opposed to
	// always inserting a fresh row (episode).
	Supersedes bool
	// ChainedLineage reports whether at most one current memory may exist
	// per lineage (invariant 5).
	ChainedLineage bool
}

var strategies = map[Type]Strategy{
	TypeFact:    {Supersedes: true, ChainedLineage: true},
	TypeState:   {Supersedes: true, ChainedLineage: true},
	TypeEpisode: {Supersedes: false, ChainedLineage: false},
	TypePolicy:  {Supersedes: true, ChainedLineage: true},
}

// StrategyFor returns the update strategy for a memory type. Callers must
// validate Type.Valid() first; an unknown type returns the zero Strategy
// (never supersedes), which is the safest default.
func StrategyFor(t Type) Strategy {
	return strategies[t]
}
