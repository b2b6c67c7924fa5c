// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the chat client.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"clinicrew/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render formats the error for the transcript.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    • %s", h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Sentinels first so errors.Is works through wrapping.
	{
		match: is(domain.ErrHistoryDecode),
		produce: constantError("Unreadable History",
			"The file is not a conversation history exported by clinicrew.",
			[]string{"Export a session with /export and load that file", "Check the file is valid JSON"}),
	},
	{
		match: is(domain.ErrInvalidInput),
		produce: func(err error) FriendlyError {
			return FriendlyError{Title: "Invalid Input", Message: err.Error(), Raw: err.Error()}
		},
	},
	{
		match: is(domain.ErrSpecialistNotFound),
		produce: constantError("Unknown Specialist",
			"No specialist with that name is on the team.",
			[]string{"Use /help to list the specialists"}),
	},
	{
		match: is(domain.ErrEmbeddingFailed),
		produce: constantError("Knowledge Search Unavailable",
			"The embedding service did not answer.",
			[]string{"Check embedding.provider and embedding.base_url in config", "Run 'clinicrew check' to probe the indices"}),
	},
	{
		match: is(domain.ErrRecordStore),
		produce: constantError("Record Store Error",
			"Patient records could not be read or written.",
			[]string{"Check store.path is writable", "Make sure no other process holds the database"}),
	},
	{
		match:   is(domain.ErrProviderNotFound),
		produce: constantError("LLM Provider Missing", "A specialist refers to a provider that is not configured.", []string{"Check llm.providers and specialists[].provider in config"}),
	},

	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the LLM or embedding service.", []string{"Check the provider base_url in config", "Check your network connection"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout", "timed out"),
		produce: constantError("Request Timed Out", "The request took too long to complete.", []string{"Try again", "Increase the provider resp_timeout in config"}),
	},
	{
		match:   containsAny("401", "unauthorized", "invalid api key", "authentication failed"),
		produce: constantError("Authentication Failed", "The API key or credentials were rejected.", []string{"Check the api_key of the provider", "Check the environment variables in .env"}),
	},
	{
		match:   containsAny("429", "rate limit", "too many requests"),
		produce: constantError("Rate Limited", "Too many requests sent to the provider.", []string{"Wait a moment before retrying"}),
	},
	{
		match:   containsAny("circuit breaker", "open state"),
		produce: constantError("Provider Paused", "Recent calls failed and the provider is cooling down.", []string{"Wait for the breaker timeout, then retry", "Enable llm.failover to use a fallback provider"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --log-level debug for more details"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny matches when the error text contains any of substrs,
// case-insensitively.
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
