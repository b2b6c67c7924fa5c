// Package orchestrator coordinates a group of specialists over one shared
// conversation thread: a coordinator plans, the referenced specialists run in
// sequence handing their output forward, an optional discussion round refines
// the result, and the coordinator closes with a synthesis.
package orchestrator

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/tracer"
	"clinicrew/internal/usecase"
)

// Fixed texts of the run protocol.
const (
	AnalyzingText   = "Analyzing request..."
	SynthesisPrompt = "Provide a brief summary of the findings and actions taken."

	discussionPrompt = "Based on the discussion so far:\n%s\n\nProvide your input:"
)

// Orchestrator drives one session's conversation. Calls on one instance
// must be serialised by the caller.
type Orchestrator struct {
	coordinator domain.Specialist
	roster      *Roster

	mu     sync.Mutex
	thread domain.Thread

	maxTurns   int
	historyCap int
	discussion bool
	directive  *DirectiveRule
	alias      AliasFunc
	terminator *Terminator
	direct     string
	logger     *slog.Logger
	bus        domain.EventBus
}

var _ usecase.Conversation = (*Orchestrator)(nil)

// New creates an orchestrator planning with coordinator over roster.
func New(coordinator domain.Specialist, roster *Roster, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		coordinator: coordinator,
		roster:      roster,
		maxTurns:    DefaultMaxTurns,
		historyCap:  DefaultHistoryCap,
		alias:       LastCapitalizedWord,
		terminator:  NewTerminator(),
		direct:      DefaultDirectSpecialist,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run streams one planned orchestration of input. Stopping iteration cancels
// the in-flight specialist call and ends the run.
func (o *Orchestrator) Run(ctx context.Context, input string) iter.Seq[domain.AgentMessage] {
	return func(yield func(domain.AgentMessage) bool) {
		r := o.begin(ctx, "plan", yield)
		defer r.end()
		r.plan(input)
	}
}

// RunDirectQuery sends subject to the default direct-query specialist.
func (o *Orchestrator) RunDirectQuery(ctx context.Context, subject string) iter.Seq[domain.AgentMessage] {
	return o.RunDirect(ctx, "", subject)
}

// RunDirect bypasses planning and sends subject to target, or to the default
// direct-query specialist when target is empty.
func (o *Orchestrator) RunDirect(ctx context.Context, target, subject string) iter.Seq[domain.AgentMessage] {
	return func(yield func(domain.AgentMessage) bool) {
		r := o.begin(ctx, "direct", yield)
		defer r.end()

		if !r.emit(domain.AgentMessage{Author: domain.AuthorUser, Text: subject, IsComplete: true}) {
			return
		}
		name := cmp.Or(target, o.direct)
		s, err := o.lookup(name)
		if err != nil {
			r.skip(name)
			return
		}
		r.turn(s, subject, true)
	}
}

func (o *Orchestrator) lookup(name string) (domain.Specialist, error) {
	if o.coordinator != nil && name == o.coordinator.Name() {
		return o.coordinator, nil
	}
	return o.roster.Get(name)
}

// currentThread returns the session thread, creating it from the coordinator
// on first use.
func (o *Orchestrator) currentThread() domain.Thread {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.thread == nil {
		o.thread = o.coordinator.NewThread()
	}
	return o.thread
}

// Reset drops the thread. The next run starts a new one.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.thread = nil
}

// ThreadLen returns the number of messages in the thread.
func (o *Orchestrator) ThreadLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.thread == nil {
		return 0
	}
	return o.thread.Len()
}

// run holds the state of one traversal.
type run struct {
	o         *Orchestrator
	ctx       context.Context
	cancel    context.CancelFunc
	span      trace.Span
	yield     func(domain.AgentMessage) bool
	thread    domain.Thread
	sessionID string
	kind      string

	stopped    bool
	terminated bool
	turns      int
}

func (o *Orchestrator) begin(ctx context.Context, kind string, yield func(domain.AgentMessage) bool) *run {
	ctx, cancel := context.WithCancel(ctx)
	ctx, span := tracer.StartSpan(ctx, "orchestrator.run", trace.WithAttributes(tracer.StringAttr("run.kind", kind)))
	r := &run{
		o:         o,
		ctx:       ctx,
		cancel:    cancel,
		span:      span,
		yield:     yield,
		thread:    o.currentThread(),
		sessionID: domain.SessionIDFromContext(ctx),
		kind:      kind,
	}
	r.publish(domain.EventRunStarted, domain.RunPayload{Kind: kind})
	return r
}

func (r *run) end() {
	r.publish(domain.EventRunCompleted, domain.RunPayload{Kind: r.kind, Turns: r.turns})
	r.span.SetAttributes(tracer.IntAttr("run.turns", r.turns), tracer.BoolAttr("run.terminated", r.terminated))
	if !r.stopped {
		tracer.SetOK(r.span)
	}
	r.span.End()
	r.cancel()
}

// emit forwards msg to the consumer. It returns false once the consumer has
// stopped or the run context is done.
func (r *run) emit(msg domain.AgentMessage) bool {
	if r.stopped {
		return false
	}
	if r.ctx.Err() != nil || !r.yield(msg) {
		r.stopped = true
		r.cancel()
	}
	return !r.stopped
}

func (r *run) publish(t domain.EventType, payload any) {
	if r.o.bus != nil {
		r.o.bus.Publish(r.ctx, domain.NewEvent(t, r.sessionID, payload))
	}
}

// skip reports a specialist missing from the roster.
func (r *run) skip(name string) bool {
	r.o.logger.Warn("specialist not in roster", "specialist", name)
	r.publish(domain.EventSpecialistSkipped, domain.TurnPayload{Specialist: name, Turn: r.turns})
	return r.emit(domain.SystemMessage(fmt.Sprintf("Specialist %q not found in roster; skipping.", name)))
}

// plan runs the planning, specialist, discussion and synthesis phases.
func (r *run) plan(input string) {
	o := r.o
	if !r.emit(domain.AgentMessage{Author: domain.AuthorUser, Text: input, IsComplete: true}) {
		return
	}
	if !r.emit(domain.SystemMessage(AnalyzingText)) {
		return
	}

	planText, ok := r.collect(o.coordinator, input)
	if !ok {
		return
	}

	required := ResolveRequired(planText, o.roster.Names(), o.alias)
	o.logger.Debug("plan resolved", "specialists", required)

	current, prev := input, ""
	for _, name := range required {
		if r.turns >= o.maxTurns {
			break
		}
		s, err := o.roster.Get(name)
		if err != nil {
			if !r.skip(name) {
				return
			}
			continue
		}

		prompt := current
		if o.directive != nil && o.directive.Applies(prev, name) {
			prompt = o.directive.Render(current)
		}
		text, failed, ok := r.turn(s, prompt, true)
		if !ok {
			return
		}
		if failed {
			continue
		}
		prev = name
		if text != "" {
			current = text
		}
		if r.checkTermination(name, text) {
			break
		}
	}

	if o.discussion && len(required) > 1 && !r.terminated && !r.discuss(current) {
		return
	}

	if !r.terminated && r.turns < o.maxTurns {
		if _, _, ok := r.turn(o.coordinator, SynthesisPrompt, false); !ok {
			return
		}
	}

	if r.turns >= o.maxTurns && !r.terminated {
		r.publish(domain.EventMaxTurns, domain.TurnPayload{Turn: r.turns, Reason: "max_turns"})
		r.emit(domain.SystemMessage(fmt.Sprintf("Maximum turns (%d) reached; stopping.", o.maxTurns)))
	}
}

// discuss cycles through the whole roster, feeding each specialist the
// previous reply, until a termination phrase, a question for the user, or
// the turn budget ends it. It returns false when the consumer stopped.
func (r *run) discuss(current string) bool {
	names := r.o.roster.Names()
	if len(names) == 0 {
		return true
	}
	for i := 0; r.turns < r.o.maxTurns; i++ {
		name := names[i%len(names)]
		s, err := r.o.roster.Get(name)
		if err != nil {
			if !r.skip(name) {
				return false
			}
			continue
		}
		text, failed, ok := r.turn(s, fmt.Sprintf(discussionPrompt, current), true)
		if !ok {
			return false
		}
		if failed {
			continue
		}
		if text != "" {
			current = text
		}
		if r.checkTermination(name, text) || IsUserQuestion(text) {
			return true
		}
	}
	return true
}

func (r *run) checkTermination(name, text string) bool {
	phrase, hit := r.o.terminator.Match(text)
	if !hit {
		return false
	}
	r.terminated = true
	r.o.logger.Info("termination phrase detected", "specialist", name, "phrase", phrase)
	r.publish(domain.EventTerminated, domain.TurnPayload{Specialist: name, Turn: r.turns, Reason: "phrase"})
	return true
}

// collect runs the coordinator's planning call and emits its text as one
// complete message.
func (r *run) collect(s domain.Specialist, prompt string) (string, bool) {
	var sb strings.Builder
	for chunk, err := range s.Invoke(r.ctx, r.thread, prompt) {
		if err != nil {
			if r.ctx.Err() != nil {
				r.stopped = true
				return "", false
			}
			return "", r.fail(s.Name(), err)
		}
		sb.WriteString(chunk)
	}
	text := sb.String()
	if text == "" {
		return "", true
	}
	return text, r.emit(domain.AgentMessage{Author: s.Name(), Text: text, IsComplete: true})
}

// turn invokes one specialist, streaming its chunks and then its complete
// text. failed is set when the specialist returned an error, which is
// reported as a System message rather than ending the run. Counted turns
// consume the turn budget.
func (r *run) turn(s domain.Specialist, prompt string, counted bool) (text string, failed, ok bool) {
	ctx, span := tracer.StartSpan(r.ctx, "orchestrator.turn",
		trace.WithAttributes(tracer.StringAttr("specialist.name", s.Name())),
	)
	defer span.End()

	var sb strings.Builder
	for chunk, err := range s.Invoke(ctx, r.thread, prompt) {
		if err != nil {
			if r.ctx.Err() != nil {
				r.stopped = true
				return "", false, false
			}
			tracer.RecordError(span, err)
			if counted {
				r.turns++
			}
			return "", true, r.fail(s.Name(), err)
		}
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if !r.emit(domain.AgentMessage{Author: s.Name(), Text: chunk, IsStreaming: true}) {
			return "", false, false
		}
	}

	if counted {
		r.turns++
	}
	text = sb.String()
	r.publish(domain.EventTurnCompleted, domain.TurnPayload{Specialist: s.Name(), Turn: r.turns})
	tracer.SetOK(span)
	if text == "" {
		return "", false, true
	}
	return text, false, r.emit(domain.AgentMessage{Author: s.Name(), Text: text, IsComplete: true})
}

func (r *run) fail(name string, err error) bool {
	r.o.logger.Warn("specialist failed", "specialist", name, "error", err)
	r.publish(domain.EventSpecialistFailed, domain.TurnPayload{Specialist: name, Turn: r.turns, Reason: err.Error()})
	return r.emit(domain.SystemMessage(fmt.Sprintf("%s failed: %v", name, err)))
}
