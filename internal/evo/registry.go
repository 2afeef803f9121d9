package evo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrOperatorExists   = errors.New("operator already registered")
	ErrOperatorNotFound = errors.New("operator not found")
)

// SelectorFactory builds a selector configured from run parameters.
type SelectorFactory func(p RunParameters) Selector

const (
	SelectionTournament = "tournament"
	SelectionElite      = "elite"
)

var operatorRegistry = struct {
	mu         sync.RWMutex
	crossovers map[string]Crossover
	selectors  map[string]SelectorFactory
}{}

func init() {
	resetOperatorRegistry()
}

func resetOperatorRegistry() {
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	operatorRegistry.crossovers = map[string]Crossover{
		string(CrossoverBlend):   BlendCrossover{},
		string(CrossoverUniform): UniformCrossover{},
	}
	operatorRegistry.selectors = map[string]SelectorFactory{
		SelectionTournament: func(p RunParameters) Selector {
			return TournamentSelector{Size: p.TournamentSize}
		},
		SelectionElite: func(p RunParameters) Selector {
			return EliteSelector{Count: p.EliteCount}
		},
	}
}

// RegisterCrossover makes a crossover selectable by its Name.
func RegisterCrossover(op Crossover) error {
	if op == nil {
		return errors.New("crossover is required")
	}
	name := op.Name()
	if name == "" {
		return errors.New("crossover name is required")
	}
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	if _, exists := operatorRegistry.crossovers[name]; exists {
		return fmt.Errorf("%w: crossover %s", ErrOperatorExists, name)
	}
	operatorRegistry.crossovers[name] = op
	return nil
}

func RegisterSelector(name string, factory SelectorFactory) error {
	if name == "" {
		return errors.New("selector name is required")
	}
	if factory == nil {
		return errors.New("selector factory is required")
	}
	operatorRegistry.mu.Lock()
	defer operatorRegistry.mu.Unlock()
	if _, exists := operatorRegistry.selectors[name]; exists {
		return fmt.Errorf("%w: selector %s", ErrOperatorExists, name)
	}
	operatorRegistry.selectors[name] = factory
	return nil
}

func ResolveCrossover(name string) (Crossover, error) {
	operatorRegistry.mu.RLock()
	op, ok := operatorRegistry.crossovers[name]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: crossover %s", ErrOperatorNotFound, name)
	}
	return op, nil
}

func ResolveSelector(name string, p RunParameters) (Selector, error) {
	operatorRegistry.mu.RLock()
	factory, ok := operatorRegistry.selectors[name]
	operatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: selector %s", ErrOperatorNotFound, name)
	}
	return factory(p), nil
}

// ListOperators returns the registered crossover and selector names, sorted.
func ListOperators() (crossovers []string, selectors []string) {
	operatorRegistry.mu.RLock()
	defer operatorRegistry.mu.RUnlock()
	for name := range operatorRegistry.crossovers {
		crossovers = append(crossovers, name)
	}
	for name := range operatorRegistry.selectors {
		selectors = append(selectors, name)
	}
	sort.Strings(crossovers)
	sort.Strings(selectors)
	return crossovers, selectors
}
