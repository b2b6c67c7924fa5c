package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"clinicrew/internal/adapter/embedding"
	"clinicrew/internal/adapter/llm"
	"clinicrew/internal/adapter/report"
	"clinicrew/internal/adapter/store"
	"clinicrew/internal/adapter/tool"
	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/metrics"
	"clinicrew/internal/security"
	"clinicrew/internal/usecase"
	"clinicrew/internal/usecase/eventbus"
	"clinicrew/internal/usecase/knowledge"
	"clinicrew/internal/usecase/orchestrator"
	"clinicrew/internal/usecase/roster"
)

// knowledgeComponents are the two retrieval indices and their tools.
type knowledgeComponents struct {
	Terms       *knowledge.TermIndex
	Passages    *knowledge.PassageIndex
	TermTool    *tool.MedicalKnowledgeTool
	PassageTool *tool.ClinicalGuidelinesTool
}

// initKnowledge builds the embedder and loads both knowledge sources.
func initKnowledge(ctx context.Context, cfg *config.Config, bus domain.EventBus, log *slog.Logger) (*knowledgeComponents, error) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	kc := cfg.Knowledge
	terms := knowledge.NewTermIndex(embedder, log,
		knowledge.WithTermThresholds(kc.ConfirmThreshold, kc.UncertainThreshold),
		knowledge.WithTermEvents(bus),
	)
	if err := terms.Initialize(ctx, kc.TermsPath); err != nil {
		return nil, fmt.Errorf("medical terms: %w", err)
	}

	passages := knowledge.NewPassageIndex(embedder, log,
		knowledge.WithChunking(kc.ChunkSize, kc.ChunkOverlap, kc.MinChunkWords),
		knowledge.WithPassageThreshold(kc.PassageThreshold),
		knowledge.WithTopK(kc.TopK),
		knowledge.WithPassageEvents(bus),
	)
	if err := passages.Initialize(ctx, kc.GuidelinesPath); err != nil {
		return nil, fmt.Errorf("clinical guidelines: %w", err)
	}

	return &knowledgeComponents{
		Terms:       terms,
		Passages:    passages,
		TermTool:    tool.NewMedicalKnowledgeTool(terms, log),
		PassageTool: tool.NewClinicalGuidelinesTool(passages, log),
	}, nil
}

// initRecords opens the record store, encrypted when a passphrase is set.
func initRecords(cfg *config.Config, log *slog.Logger) (*store.SQLiteStore, *report.Renderer, error) {
	var opts []store.Option
	if pass := cfg.Sessions.EncryptionPassphrase; pass != "" {
		enc, err := security.NewAESContentEncryptor(pass)
		if err != nil {
			return nil, nil, fmt.Errorf("encryptor: %w", err)
		}
		opts = append(opts, store.WithEncryptor(enc))
	}
	st, err := store.Open(cfg.Store.Path, opts...)
	if err != nil {
		return nil, nil, err
	}
	return st, report.New(cfg.Reports, log), nil
}

// initAudit opens the audit trail, drops entries past retention and
// subscribes it to the bus. The returned func unsubscribes and closes the file.
func initAudit(cfg config.AuditConfig, bus domain.EventBus, log *slog.Logger) (func(), error) {
	audit, err := security.NewFileAuditLogger(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if cfg.MaxAge > 0 {
		removed, err := audit.EnforceRetention(cfg.MaxAge)
		if err != nil {
			log.Warn("audit retention failed", "error", err)
		} else if removed > 0 {
			log.Info("audit retention applied", "removed", removed)
		}
	}
	unsub := security.SubscribeAudit(bus, audit, log)
	return func() {
		unsub()
		if err := audit.Close(); err != nil {
			log.Warn("close audit log", "error", err)
		}
	}, nil
}

// initTeam builds the coordinator and the roster of specialists. Specialists
// hold no per-session state and are shared by every orchestrator.
func initTeam(ctx context.Context, cfg *config.Config, tools domain.ToolExecutor, bus domain.EventBus, log *slog.Logger) (domain.Specialist, *orchestrator.Roster, error) {
	providers, err := llm.Build(ctx, cfg.LLM, log)
	if err != nil {
		return nil, nil, fmt.Errorf("llm: %w", err)
	}

	build := func(id domain.SpecialistIdentity) (domain.Specialist, error) {
		provider, err := providers.Resolve(cfg.LLM, id.Provider, log)
		if err != nil {
			return nil, fmt.Errorf("specialist %s: %w", id.Name, err)
		}
		return usecase.NewLLMSpecialist(usecase.SpecialistDeps{
			Identity:    id,
			LLM:         provider,
			Tools:       tools,
			Logger:      log,
			Bus:         bus,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}), nil
	}

	identities, err := applyOverrides(append([]domain.SpecialistIdentity{roster.CoordinatorIdentity()}, roster.Specialists()...), cfg.Specialists)
	if err != nil {
		return nil, nil, err
	}

	coordinator, err := build(identities[0])
	if err != nil {
		return nil, nil, err
	}
	team := orchestrator.NewRoster()
	for _, id := range identities[1:] {
		s, err := build(id)
		if err != nil {
			return nil, nil, err
		}
		if err := team.Add(id.Name, s); err != nil {
			return nil, nil, err
		}
	}
	return coordinator, team, nil
}

// applyOverrides merges the configured overrides into the built-in
// identities. An override naming no known specialist is an error.
func applyOverrides(ids []domain.SpecialistIdentity, overrides []config.SpecialistConfig) ([]domain.SpecialistIdentity, error) {
	out := make([]domain.SpecialistIdentity, len(ids))
	copy(out, ids)

	for _, o := range overrides {
		i := -1
		for j := range out {
			if out[j].Name == o.Name {
				i = j
				break
			}
		}
		if i < 0 {
			return nil, domain.NewDomainError("applyOverrides", domain.ErrSpecialistNotFound, o.Name)
		}
		if o.Provider != "" {
			out[i].Provider = o.Provider
		}
		if o.Model != "" {
			out[i].Model = o.Model
		}
		if o.MaxIterations > 0 {
			out[i].MaxIter = o.MaxIterations
		}
		if o.InstructionsFile != "" {
			data, err := os.ReadFile(o.InstructionsFile)
			if err != nil {
				return nil, fmt.Errorf("specialist %s instructions: %w", o.Name, err)
			}
			out[i].Instructions = string(data)
		}
	}
	return out, nil
}

// orchestratorOptions translates the orchestrator config section.
func orchestratorOptions(cfg config.OrchestratorConfig, bus domain.EventBus) []orchestrator.Option {
	opts := []orchestrator.Option{
		orchestrator.WithMaxTurns(cfg.MaxTurns),
		orchestrator.WithDiscussion(cfg.Discussion),
		orchestrator.WithHistoryCap(cfg.HistoryCap),
		orchestrator.WithEventBus(bus),
	}
	if cfg.DirectSpecialist != "" {
		opts = append(opts, orchestrator.WithDirectSpecialist(cfg.DirectSpecialist))
	}
	if cfg.Directive {
		opts = append(opts, orchestrator.WithDirective(roster.DefaultDirective()))
	}
	if len(cfg.TerminationPhrases) > 0 {
		opts = append(opts, orchestrator.WithTerminationPhrases(cfg.TerminationPhrases...))
	}
	return opts
}

// app is the fully wired service shared by serve, chat and ask.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	knowledge *knowledgeComponents
	sessions  *usecase.SessionRegistry
	roster    *orchestrator.Roster
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, bus: eventbus.New(log), metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.closers = append(a.closers, a.bus.Close, a.metrics.Subscribe(a.bus), eventbus.LogEvents(a.bus, log))

	if cfg.Audit.Enabled {
		closeAudit, err := initAudit(cfg.Audit, a.bus, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeAudit)
	}

	a.knowledge, err = initKnowledge(ctx, cfg, a.bus, log)
	if err != nil {
		return nil, err
	}

	st, renderer, err := initRecords(cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	})

	tools := tool.NewRegistry(log)
	if err := tools.Register(
		a.knowledge.TermTool,
		a.knowledge.PassageTool,
		tool.NewSavePatientRecordTool(st, log),
		tool.NewAddClinicalNoteTool(st, log),
		tool.NewGenerateReportTool(st, renderer, log),
	); err != nil {
		return nil, err
	}

	coordinator, team, err := initTeam(ctx, cfg, tools, a.bus, log)
	if err != nil {
		return nil, err
	}
	a.roster = team

	opts := slices.Clip(orchestratorOptions(cfg.Orchestrator, a.bus))
	factory := func(sessionID string) (usecase.Conversation, error) {
		return orchestrator.New(coordinator, team, append(opts, orchestrator.WithLogger(log.With("session", sessionID)))...), nil
	}
	a.sessions = usecase.NewSessionRegistry(factory, st, log, usecase.WithRegistryEvents(a.bus))

	if cfg.Sessions.ReapSchedule != "" && cfg.Sessions.MaxIdle > 0 {
		stop, err := a.sessions.StartReaper(ctx, cfg.Sessions.ReapSchedule, cfg.Sessions.MaxIdle)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, stop)
	}

	log.Info("clinicrew ready",
		"terms", a.knowledge.Terms.Len(),
		"passages", a.knowledge.Passages.Len(),
		"specialists", team.Names(),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
