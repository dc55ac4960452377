package engine

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
)

// Event protocol constants. The bootstrap emits frames on stderr:
// \x00PYRITE:{json}\x00. Anything outside a frame is real stderr output.
const (
	framePrefix = "\x00PYRITE:"
	frameSuffix = "\x00"
)

type frame struct {
	Event string  `json:"event"` // "ready" or "done"
	Seq   uint64  `json:"seq"`   // echo of the command's sequence number
	OK    bool    `json:"ok"`
	Repr  *string `json:"repr"`
	EType string  `json:"etype,omitempty"`
	Error string  `json:"error,omitempty"`
}

type evalReply struct {
	repr string
	err  error
}

// eventScanner intercepts interpreter stderr, extracting protocol frames and
// buffering the rest as real stderr output. Partial frames split across
// writes are retained until complete.
type eventScanner struct {
	buf        bytes.Buffer
	realStderr bytes.Buffer

	readyCh chan struct{}
	doneCh  chan evalReply
	ready   bool
	want    uint64

	mu sync.Mutex
}

func newEventScanner() *eventScanner {
	return &eventScanner{
		readyCh: make(chan struct{}),
		doneCh:  make(chan evalReply, 1),
	}
}

func (s *eventScanner) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(data)

	for {
		content := s.buf.String()

		start := strings.Index(content, framePrefix)
		if start == -1 {
			break
		}

		if start > 0 {
			s.realStderr.WriteString(content[:start])
		}

		rest := content[start+len(framePrefix):]
		end := strings.Index(rest, frameSuffix)
		if end == -1 {
			// incomplete frame, wait for more
			s.buf.Reset()
			s.buf.WriteString(content[start:])
			break
		}

		payload := rest[:end]
		s.buf.Reset()
		s.buf.WriteString(rest[end+len(frameSuffix):])

		s.dispatch(payload)
	}

	return len(data), nil
}

func (s *eventScanner) dispatch(payload string) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		s.realStderr.WriteString(payload)
		return
	}

	switch f.Event {
	case "ready":
		if !s.ready {
			s.ready = true
			close(s.readyCh)
		}

	case "done":
		if f.Seq != s.want {
			// reply to a command nobody is waiting on anymore
			return
		}
		var reply evalReply
		if f.OK {
			if f.Repr != nil {
				reply.repr = *f.Repr
			}
		} else {
			reply.err = &ExecError{Type: f.EType, Message: f.Error}
		}
		select {
		case s.doneCh <- reply:
		default:
		}

	default:
		s.realStderr.WriteString(payload)
	}
}

// Ready is closed once the interpreter's command loop is up.
func (s *eventScanner) Ready() <-chan struct{} {
	return s.readyCh
}

// Done delivers the reply for the command registered by the last BeginEval.
func (s *eventScanner) Done() <-chan evalReply {
	return s.doneCh
}

// BeginEval registers the sequence number of the next command. Done frames
// carrying any other number are discarded on arrival, so a reply to an
// abandoned evaluation can never reach a later caller. Any already-buffered
// stale reply and the captured stderr are cleared too.
func (s *eventScanner) BeginEval(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.want = seq
	select {
	case <-s.doneCh:
	default:
	}
	s.realStderr.Reset()
}

func (s *eventScanner) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realStderr.String()
}
