package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clinicrew/internal/domain"
)

// RPC method names.
const (
	MethodRun    = "session.run"
	MethodDirect = "session.direct"
	MethodReset  = "session.reset"
	MethodExport = "session.export"
	MethodLoad   = "session.load"
)

type sessionParams struct {
	SessionID string `json:"session_id"`
}

type runParams struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

type directParams struct {
	SessionID  string `json:"session_id"`
	Subject    string `json:"subject"`
	Specialist string `json:"specialist,omitempty"`
}

type loadParams struct {
	SessionID string          `json:"session_id"`
	History   json.RawMessage `json:"history"`
}

// runResult is the final response of a streaming call.
type runResult struct {
	Messages int `json:"messages"`
}

func (s *Server) registerSessionRPC() {
	s.RegisterHandler(MethodRun, s.rpcRun)
	s.RegisterHandler(MethodDirect, s.rpcDirect)
	s.RegisterHandler(MethodReset, s.rpcReset)
	s.RegisterHandler(MethodExport, s.rpcExport)
	s.RegisterHandler(MethodLoad, s.rpcLoad)
}

func decodeParams(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing params", domain.ErrRPCInvalidPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
	}
	return nil
}

func (s *Server) rpcRun(ctx context.Context, call *Call) (any, error) {
	var p runParams
	if err := decodeParams(call.Payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Input) == "" {
		return nil, fmt.Errorf("%w: input is required", domain.ErrRPCInvalidPayload)
	}
	n := 0
	for msg := range s.sessions.Run(ctx, p.SessionID, p.Input) {
		call.Emit(EventMessage, msg)
		n++
	}
	return runResult{Messages: n}, ctx.Err()
}

func (s *Server) rpcDirect(ctx context.Context, call *Call) (any, error) {
	var p directParams
	if err := decodeParams(call.Payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrRPCInvalidPayload)
	}
	n := 0
	for msg := range s.sessions.RunDirectTo(ctx, p.SessionID, p.Specialist, p.Subject) {
		call.Emit(EventMessage, msg)
		n++
	}
	return runResult{Messages: n}, ctx.Err()
}

func (s *Server) rpcReset(ctx context.Context, call *Call) (any, error) {
	var p sessionParams
	if err := decodeParams(call.Payload, &p); err != nil {
		return nil, err
	}
	if err := s.sessions.Reset(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) rpcExport(ctx context.Context, call *Call) (any, error) {
	var p sessionParams
	if err := decodeParams(call.Payload, &p); err != nil {
		return nil, err
	}
	blob, err := s.sessions.Export(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(blob), nil
}

func (s *Server) rpcLoad(ctx context.Context, call *Call) (any, error) {
	var p loadParams
	if err := decodeParams(call.Payload, &p); err != nil {
		return nil, err
	}
	if len(p.History) == 0 {
		return nil, fmt.Errorf("%w: history is required", domain.ErrRPCInvalidPayload)
	}
	if err := s.sessions.Load(ctx, p.SessionID, p.History); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
