package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"clinicrew/internal/domain"
)

const maxSSELine = 1 << 20

var doneMarker = []byte("[DONE]")

// decodeFunc converts one SSE data payload into a delta. A nil delta is
// skipped.
type decodeFunc func(data []byte) (*domain.StreamDelta, error)

// streamSSE reads server-sent events from body on a goroutine and forwards
// the decoded deltas. The channel closes after a Done delta, at end of
// input, or when ctx is cancelled; body is always closed.
func streamSSE(ctx context.Context, body io.ReadCloser, decode decodeFunc) <-chan domain.StreamDelta {
	out := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(out)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case out <- d:
				return !d.Done
			case <-ctx.Done():
				return false
			}
		}

		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 0, 64<<10), maxSSELine)
		for sc.Scan() {
			data, ok := ssePayload(sc.Bytes())
			if !ok {
				continue
			}
			if bytes.Equal(data, doneMarker) {
				send(domain.StreamDelta{Done: true})
				return
			}
			delta, err := decode(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(*delta) {
				return
			}
		}
		if sc.Err() != nil {
			send(domain.StreamDelta{Done: true})
		}
	}()
	return out
}

// ssePayload returns the value of a "data:" field line.
func ssePayload(line []byte) ([]byte, bool) {
	rest, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	return bytes.TrimPrefix(rest, []byte(" ")), true
}
