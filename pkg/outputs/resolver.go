package outputs

import (
	"github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/module"
)

// MergePolicy decides which value wins when a producer has both a prior
// recorded value and a declared mock for the same output key.
type MergePolicy string

const (
	// MergePreferState prefers the last recorded real value. Planning then
	// reflects the last known reality rather than a synthetic placeholder.
	MergePreferState MergePolicy = "prefer-state"

	// MergePreferMock prefers the declared placeholder. Useful when prior
	// state is known to go stale outside the pipeline.
	MergePreferMock MergePolicy = "prefer-mock"
)

// Resolver resolves dependency edges to tagged output values.
type Resolver struct {
	// Policy controls merge-with-state precedence. Defaults to
	// MergePreferState.
	Policy MergePolicy
}

// NewResolver creates a resolver with the default merge policy.
func NewResolver() *Resolver {
	return &Resolver{Policy: MergePreferState}
}

// Resolve produces the value of one dependency edge for the given
// operation.
//
// An Applied producer yields the real recorded value. An unapplied producer
// falls back to the consumer's declared mock, but only when the operation
// is in the mock's allow-list (never apply); with merge-with-state enabled,
// a prior recorded value may take precedence over the placeholder per the
// resolver's policy — it is still tagged mocked, because the producer is
// not currently applied. Anything else is an unresolved dependency, a
// configuration defect.
func (r *Resolver) Resolve(op module.Operation, edge module.Edge, producerState module.Lifecycle, prior map[string]interface{}, mock *module.Mock) (Value, error) {
	if producerState == module.LifecycleApplied {
		value, ok := prior[edge.Output]
		if !ok {
			return Value{}, errors.UnresolvedDependencyError(edge.Consumer, edge.Producer, edge.Output,
				"output not present in the producer's recorded state")
		}
		return Value{Name: edge.Output, Value: value, Kind: KindReal}, nil
	}

	if mock == nil {
		return Value{}, errors.UnresolvedDependencyError(edge.Consumer, edge.Producer, edge.Output,
			"producer is not applied and no mock is declared")
	}
	if !mock.Allows(op) {
		return Value{}, errors.UnresolvedDependencyError(edge.Consumer, edge.Producer, edge.Output,
			"producer is not applied and the declared mock does not allow "+string(op))
	}

	mocked, hasMock := mock.Outputs[edge.Output]
	priorValue, hasPrior := prior[edge.Output]

	switch {
	case mock.MergeWithState && hasPrior && (r.policy() == MergePreferState || !hasMock):
		return Value{Name: edge.Output, Value: priorValue, Kind: KindMocked}, nil
	case hasMock:
		return Value{Name: edge.Output, Value: mocked, Kind: KindMocked}, nil
	default:
		return Value{}, errors.UnresolvedDependencyError(edge.Consumer, edge.Producer, edge.Output,
			"producer is not applied and the declared mock does not cover this output")
	}
}

// ResolveAll resolves every dependency edge of a consumer module into a
// set, failing on the first unresolvable edge.
func (r *Resolver) ResolveAll(op module.Operation, consumer *module.Module, producerState func(path string) (module.Lifecycle, map[string]interface{})) (Set, error) {
	set := make(Set, len(consumer.DependsOn))
	for _, edge := range consumer.DependsOn {
		// Ordering-only edges consume no outputs.
		if edge.Output == "" {
			continue
		}
		lifecycle, prior := producerState(edge.Producer)
		value, err := r.Resolve(op, edge, lifecycle, prior, consumer.Mock(edge.Producer))
		if err != nil {
			return nil, err
		}
		set[edge.Output] = value
	}
	return set, nil
}

func (r *Resolver) policy() MergePolicy {
	if r.Policy == "" {
		return MergePreferState
	}
	return r.Policy
}
