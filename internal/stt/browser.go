package stt

import (
	"context"
	"sync"
)

// Commander forwards recognizer commands ("recognizer_start",
// "recognizer_stop") to the client that hosts the platform recognizer.
type Commander func(ctx context.Context, command string) error

// BrowserSource adapts a recognizer running in the user's browser. The
// client reports its capability and pushes recognizer events; the server
// only tells it when to start and stop.
type BrowserSource struct {
	mu        sync.Mutex
	supported bool
	command   Commander
	ch        chan Event
}

func NewBrowserSource(command Commander) *BrowserSource {
	return &BrowserSource{command: command}
}

// SetSupported records the capability the client announced on connect.
func (b *BrowserSource) SetSupported(ok bool) {
	b.mu.Lock()
	b.supported = ok
	b.mu.Unlock()
}

func (b *BrowserSource) Supported() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supported && b.command != nil
}

func (b *BrowserSource) Start(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	if !b.supported || b.command == nil {
		b.mu.Unlock()
		return nil, &CaptureError{Category: AudioCaptureFailure, Err: ErrUnsupported}
	}
	if b.ch != nil {
		close(b.ch)
	}
	ch := make(chan Event, 32)
	b.ch = ch
	b.mu.Unlock()

	if err := b.command(ctx, "recognizer_start"); err != nil {
		b.closeIf(ch)
		return nil, &CaptureError{Category: NetworkFailure, Err: err}
	}
	return ch, nil
}

// Stop closes the event channel right away and asks the client to stop;
// whatever the client reports afterwards is dropped.
func (b *BrowserSource) Stop() error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return nil
	}
	b.closeIf(ch)
	return b.command(context.Background(), "recognizer_stop")
}

// Push delivers a client-side recognizer event. The recognizer's own end
// notification closes the run.
func (b *BrowserSource) Push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return
	}
	select {
	case b.ch <- ev:
	default:
		metricEventDrops.Inc()
	}
}

// End marks the client recognizer as finished.
func (b *BrowserSource) End() {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch != nil {
		b.closeIf(ch)
	}
}

func (b *BrowserSource) closeIf(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == ch {
		close(ch)
		b.ch = nil
	}
}
