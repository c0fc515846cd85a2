package studio

import (
	"log/slog"
	"sync"
)

// DummyLamp is a lamp without hardware behind it. State changes are logged,
// which is enough for bench setups and tests.
type DummyLamp struct {
	name string
	log  *slog.Logger

	mu     sync.Mutex
	status LedStatus
}

func NewDummyLamp(name string) *DummyLamp {
	return &DummyLamp{
		name:   name,
		log:    slog.Default().With("lamp", name),
		status: LedOff,
	}
}

func (l *DummyLamp) Name() string { return l.name }

func (l *DummyLamp) SetStatus(status LedStatus) {
	l.mu.Lock()
	changed := l.status != status
	l.status = status
	l.mu.Unlock()
	if changed {
		l.log.Info("lamp state", "status", status.String())
	}
}

func (l *DummyLamp) Status() LedStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// DummyButton is a button without hardware behind it; Press invokes the
// registered handlers synchronously.
type DummyButton struct {
	name string

	mu       sync.Mutex
	handlers []func()
}

func NewDummyButton(name string) *DummyButton {
	return &DummyButton{name: name}
}

func (b *DummyButton) Name() string { return b.name }

func (b *DummyButton) AddHandler(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// Press simulates a physical press.
func (b *DummyButton) Press() {
	b.mu.Lock()
	handlers := make([]func(), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}
