package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("transport closed")

type sentFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (f sentFrame) decode(t *testing.T, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Payload, dst))
}

// fakeTransport feeds raw frames to ReadJSON and records every write as JSON.
type fakeTransport struct {
	inbox      chan []byte
	outbox     chan sentFrame
	closed     chan struct{}
	closeOnce  sync.Once
	failWrites atomic.Bool
	pings      atomic.Int32

	// when set, writes hang until the transport is closed, like a peer that stopped reading
	stall chan struct{}

	// frames read by waitFor but not yet matched; test goroutine only
	pending []sentFrame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan []byte, 64),
		outbox: make(chan sentFrame, 1024),
		closed: make(chan struct{}),
	}
}

func newStalledTransport() *fakeTransport {
	t := newFakeTransport()
	t.stall = make(chan struct{})
	return t
}

func (t *fakeTransport) ReadJSON(v interface{}) error {
	select {
	case raw := <-t.inbox:
		return json.Unmarshal(raw, v)
	case <-t.closed:
		return errTransportClosed
	}
}

func (t *fakeTransport) WriteJSON(v interface{}) error {
	if t.failWrites.Load() {
		return errors.New("broken pipe")
	}
	if t.stall != nil {
		select {
		case <-t.stall:
		case <-t.closed:
			return errTransportClosed
		}
	}
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame sentFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	t.outbox <- frame
	return nil
}

func (t *fakeTransport) Ping() error {
	t.pings.Add(1)
	return nil
}

func (t *fakeTransport) SetReadDeadline(time.Time) error { return nil }

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) send(tb testing.TB, frameType string, payload interface{}) {
	tb.Helper()
	frame := map[string]interface{}{"type": frameType}
	if payload != nil {
		frame["payload"] = payload
	}
	raw, err := json.Marshal(frame)
	require.NoError(tb, err)
	t.inbox <- raw
}

// waitFor returns the oldest unconsumed frame of frameType, keeping any other frames for
// later calls.
func (t *fakeTransport) waitFor(tb testing.TB, frameType string) sentFrame {
	tb.Helper()
	for i, frame := range t.pending {
		if frame.Type == frameType {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return frame
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-t.outbox:
			if frame.Type == frameType {
				return frame
			}
			t.pending = append(t.pending, frame)
		case <-deadline:
			tb.Fatalf("timed out waiting for %q", frameType)
			return sentFrame{}
		}
	}
}

// drain returns every unconsumed frame written so far.
func (t *fakeTransport) drain() []sentFrame {
	frames := t.pending
	t.pending = nil
	for {
		select {
		case frame := <-t.outbox:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}
