package orchestrator

import (
	"log/slog"

	"clinicrew/internal/domain"
)

// Defaults.
const (
	DefaultMaxTurns         = 10
	DefaultHistoryCap       = 50
	DefaultDirectSpecialist = "SemanticMedicalAdvisor"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxTurns caps specialist turns per run. Non-positive values are ignored.
func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTurns = n
		}
	}
}

// WithDiscussion enables the round-robin discussion phase.
func WithDiscussion(enabled bool) Option {
	return func(o *Orchestrator) { o.discussion = enabled }
}

// WithDirective installs a handoff directive rule.
func WithDirective(rule DirectiveRule) Option {
	return func(o *Orchestrator) { o.directive = &rule }
}

// WithAliasMatcher replaces the plan alias heuristic. nil disables aliases.
func WithAliasMatcher(fn AliasFunc) Option {
	return func(o *Orchestrator) { o.alias = fn }
}

// WithTerminationPhrases replaces the completion vocabulary.
func WithTerminationPhrases(phrases ...string) Option {
	return func(o *Orchestrator) { o.terminator = NewTerminator(phrases...) }
}

// WithHistoryCap bounds the messages kept by LoadHistory.
func WithHistoryCap(n int) Option {
	return func(o *Orchestrator) { o.historyCap = n }
}

// WithDirectSpecialist names the default target of RunDirectQuery.
func WithDirectSpecialist(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.direct = name
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithEventBus publishes run lifecycle events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}
