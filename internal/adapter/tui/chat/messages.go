// Package chat implements the Bubble Tea terminal client for a local
// clinicrew session.
package chat

import "clinicrew/internal/domain"

// agentMsg carries one streamed message. gen identifies the run so messages
// of a cancelled run can be discarded.
type agentMsg struct {
	msg domain.AgentMessage
	gen uint64
}

// runDoneMsg signals that the stream of run gen is exhausted.
type runDoneMsg struct {
	gen uint64
}

// noticeMsg reports the outcome of a local command such as /export.
type noticeMsg struct {
	text string
	err  error
}

// toolMsg is forwarded from the event bus when a specialist finishes a tool call.
type toolMsg struct {
	specialist string
	tool       string
	isError    bool
}

// QuitMsg asks the program to exit.
type QuitMsg struct{}
