package usecase

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/tracer"
)

// Retry policy for LLM calls.
const (
	maxLLMRetries        = 3
	baseRetryDelay       = 500 * time.Millisecond
	maxRetryDelay        = 10 * time.Second
	defaultMaxIterations = 10
)

// SpecialistDeps holds the dependencies of an LLMSpecialist.
type SpecialistDeps struct {
	Identity    domain.SpecialistIdentity
	LLM         domain.LLMProvider
	Tools       domain.ToolExecutor // scoped to Identity.Tools
	Logger      *slog.Logger
	Bus         domain.EventBus // optional
	Temperature float64
	MaxTokens   int
	MaxMessages int // history window sent to the model, 0 = all
}

// LLMSpecialist runs the think-act loop of one specialist against a
// chat-completion provider.
type LLMSpecialist struct {
	identity domain.SpecialistIdentity
	llm      domain.LLMProvider
	tools    domain.ToolExecutor
	builder  *ContextBuilder
	logger   *slog.Logger
	bus      domain.EventBus
	maxIter  int
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ domain.Specialist = (*LLMSpecialist)(nil)

// NewLLMSpecialist creates a specialist from deps.
func NewLLMSpecialist(deps SpecialistDeps) *LLMSpecialist {
	maxIter := deps.Identity.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	builder := NewContextBuilder(deps.Identity.Instructions, deps.Identity.Model, deps.MaxMessages).
		WithSampling(deps.Temperature, deps.MaxTokens)
	return &LLMSpecialist{
		identity: deps.Identity,
		llm:      deps.LLM,
		tools:    ScopedTools(deps.Tools, deps.Identity.Tools),
		builder:  builder,
		logger:   logger.With("specialist", deps.Identity.Name),
		bus:      deps.Bus,
		maxIter:  maxIter,
		sleep:    sleepCtx,
	}
}

func (s *LLMSpecialist) Name() string { return s.identity.Name }

// Identity returns the static configuration of the specialist.
func (s *LLMSpecialist) Identity() domain.SpecialistIdentity { return s.identity }

func (s *LLMSpecialist) NewThread() domain.Thread { return NewThread() }

// Invoke appends prompt to thread as a user message, then alternates model
// calls and tool rounds until the model answers without tool calls. Content
// is yielded as it streams. Assistant messages are recorded under the
// specialist's name.
func (s *LLMSpecialist) Invoke(ctx context.Context, thread domain.Thread, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ctx = domain.ContextWithSpecialist(ctx, s.identity.Name)
		ctx, span := tracer.StartSpan(ctx, "specialist.invoke",
			trace.WithAttributes(tracer.StringAttr("specialist.name", s.identity.Name)),
		)
		defer span.End()

		thread.Append(domain.Message{Role: domain.RoleUser, Content: prompt})

		stopped := false
		emit := func(chunk string) bool {
			if stopped {
				return false
			}
			if !yield(chunk, nil) {
				stopped = true
				cancel()
			}
			return !stopped
		}

		for i := range s.maxIter {
			span.AddEvent("specialist.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

			req := s.builder.Build(thread.Messages(), s.tools.Schemas())
			msg, err := s.complete(ctx, req, emit)
			if stopped {
				return
			}
			if err != nil {
				tracer.RecordError(span, err)
				yield("", domain.WrapOp(s.identity.Name, err))
				return
			}

			msg.Name = s.identity.Name
			thread.Append(msg)
			s.logger.Debug("llm response", "iteration", i, "tool_calls", len(msg.ToolCalls))

			if len(msg.ToolCalls) == 0 {
				tracer.SetOK(span)
				return
			}
			thread.Append(s.runTools(ctx, msg.ToolCalls)...)
		}

		err := fmt.Errorf("%s: %w (%d)", s.identity.Name, domain.ErrMaxIterations, s.maxIter)
		tracer.RecordError(span, err)
		yield("", err)
	}
}

// complete performs one model call with retries on transient errors.
func (s *LLMSpecialist) complete(ctx context.Context, req domain.ChatRequest, emit func(string) bool) (domain.Message, error) {
	var lastErr error
	for attempt := range maxLLMRetries {
		msg, err := s.callOnce(ctx, req, emit)
		if err == nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Message{}, ctxErr
			}
			return msg, nil
		}
		lastErr = err
		if !ClassifyError(err).Retryable() || attempt == maxLLMRetries-1 {
			break
		}
		delay := retryBackoff(attempt)
		s.logger.Info("retrying llm call", "attempt", attempt+1, "delay", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			return domain.Message{}, err
		}
	}
	return domain.Message{}, lastErr
}

// callOnce streams when the provider supports it and falls back to Chat,
// emitting the whole content once.
func (s *LLMSpecialist) callOnce(ctx context.Context, req domain.ChatRequest, emit func(string) bool) (domain.Message, error) {
	sp, streaming := s.llm.(domain.StreamingLLMProvider)

	ctx, span := tracer.StartSpan(ctx, "llm.chat", trace.WithAttributes(
		tracer.StringAttr("llm.provider", s.llm.Name()),
		tracer.BoolAttr("llm.stream", streaming),
	))
	defer span.End()

	if streaming {
		req.Stream = true
		ch, err := sp.ChatStream(ctx, req)
		if err != nil {
			tracer.RecordError(span, err)
			return domain.Message{}, err
		}
		var acc streamAccumulator
		for delta := range ch {
			acc.add(delta)
			if delta.Content != "" && !emit(delta.Content) {
				go drain(ch)
				break
			}
		}
		tracer.SetOK(span)
		return acc.message(), nil
	}

	resp, err := s.llm.Chat(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Message{}, err
	}
	msg := resp.Message
	msg.Role = domain.RoleAssistant
	if msg.Content != "" {
		emit(msg.Content)
	}
	tracer.SetOK(span)
	return msg, nil
}

// runTools executes calls concurrently and returns results in call order.
func (s *LLMSpecialist) runTools(ctx context.Context, calls []domain.ToolCall) []domain.Message {
	results := make([]domain.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Go(func() {
			results[i] = s.executeTool(ctx, call)
		})
	}
	wg.Wait()
	return results
}

func (s *LLMSpecialist) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "specialist.tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	content, isErr := s.callTool(ctx, call)
	if isErr {
		tracer.RecordError(span, fmt.Errorf("%w: %s", domain.ErrToolFailure, call.Name))
	} else {
		tracer.SetOK(span)
	}
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(domain.EventToolCallCompleted, domain.SessionIDFromContext(ctx),
			domain.ToolCallPayload{Specialist: s.identity.Name, Tool: call.Name, IsError: isErr}))
	}
	return toolResultMessage(call, content)
}

// callTool never fails: errors and panics become textual results the model
// can read.
func (s *LLMSpecialist) callTool(ctx context.Context, call domain.ToolCall) (content string, isErr bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", "tool", call.Name, "panic", r)
			content, isErr = fmt.Sprintf("[error] tool %q failed unexpectedly", call.Name), true
		}
	}()

	tool, err := s.tools.Get(call.Name)
	if err != nil {
		s.logger.Warn("unknown tool requested", "tool", call.Name)
		return fmt.Sprintf("[error] tool %q is not available", call.Name), true
	}
	res, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		s.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return "[error] " + err.Error(), true
	}
	if res == nil {
		return "", false
	}
	return res.Content, res.IsError
}

// retryBackoff is exponential backoff capped at maxRetryDelay plus up to 25% jitter.
func retryBackoff(attempt int) time.Duration {
	delay := min(baseRetryDelay<<attempt, maxRetryDelay)
	return delay + rand.N(delay/4+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
