package symnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// valueTTL is how long a cached controller value counts as fresh after a
// poll, an acknowledged write or a push.
const valueTTL = 10 * time.Second

// ErrDummy is returned by operations a dummy controller cannot perform.
var ErrDummy = errors.New("symnet: dummy controller has no device")

var ackRe = regexp.MustCompile(`^ACK\r$`)

// Observer is called after a controller's value changed. Observers are
// scheduled on their own goroutines and never block the cache.
type Observer func(c *Controller, oldValue, newValue int)

// Controller caches the last known value of one addressable DSP control and
// notifies observers on changes. A Controller with a nil client is a local
// cache only (the dummy variant).
type Controller struct {
	number int
	client *Client
	log    *slog.Logger
	getRe  *regexp.Regexp

	mu        sync.Mutex
	raw       int
	rawTime   time.Time
	observers map[int]Observer
	nextObsID int
}

func newController(number int, client *Client, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		number:    number,
		client:    client,
		log:       log.With("controller", number),
		getRe:     regexp.MustCompile(`^` + strconv.Itoa(number) + ` ([0-9]{1,5})\r$`),
		observers: make(map[int]Observer),
	}
}

func (c *Controller) Number() int { return c.number }

// AddObserver registers a change callback and returns a handle for
// RemoveObserver.
func (c *Controller) AddObserver(fn Observer) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	return id
}

func (c *Controller) RemoveObserver(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observers, id)
}

// RawValue returns the cached value, refreshing it from the device first
// when stale.
func (c *Controller) RawValue(ctx context.Context) (int, error) {
	c.mu.Lock()
	fresh := time.Since(c.rawTime) <= valueTTL
	raw := c.raw
	c.mu.Unlock()
	if fresh || c.client == nil {
		return raw, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw, nil
}

// setRawValue updates the cache, stamps the time and, if the value changed,
// schedules every observer.
func (c *Controller) setRawValue(value int) {
	c.mu.Lock()
	old := c.raw
	c.raw = value
	c.rawTime = time.Now()
	var observers []Observer
	if old != value {
		observers = make([]Observer, 0, len(c.observers))
		for _, fn := range c.observers {
			observers = append(observers, fn)
		}
	}
	c.mu.Unlock()
	if observers == nil {
		return
	}
	c.log.Debug("value changed, notifying observers", "old", old, "new", value)
	for _, fn := range observers {
		go fn(c, old, value)
	}
}

// touch re-stamps the cache without changing the value.
func (c *Controller) touch() {
	c.mu.Lock()
	c.rawTime = time.Now()
	c.mu.Unlock()
}

// Refresh polls the device for the current value.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	m, err := c.client.Request(ctx, requestGet(c.number), MatchPattern(c.getRe))
	if err != nil {
		return fmt.Errorf("controller %d: poll: %w", c.number, err)
	}
	value, err := strconv.Atoi(m[1])
	if err != nil {
		return fmt.Errorf("controller %d: poll: %w", c.number, err)
	}
	c.setRawValue(value)
	return nil
}

// AssureCurrentState writes the cached value back to the device and waits
// for the acknowledgement.
func (c *Controller) AssureCurrentState(ctx context.Context) error {
	if c.client == nil {
		return ErrDummy
	}
	c.mu.Lock()
	raw := c.raw
	c.mu.Unlock()
	if _, err := c.client.Request(ctx, requestSet(c.number, raw), MatchPattern(ackRe)); err != nil {
		return fmt.Errorf("controller %d: write %d: %w", c.number, raw, err)
	}
	c.touch()
	return nil
}

// rawForPosition maps a selector position onto the wire value range.
func rawForPosition(position, count int) int {
	return int(math.Round(float64(position-1) / float64(count-1) * MaxRawValue))
}

// positionForRaw is the left inverse of rawForPosition.
func positionForRaw(raw, count int) int {
	return int(math.Round(float64(raw)/MaxRawValue*float64(count-1))) + 1
}

// Selector is a discrete multi-position control whose raw value is quantized
// to PositionCount positions.
type Selector struct {
	*Controller
	positions int
}

func newSelector(number, positions int, client *Client, log *slog.Logger) (*Selector, error) {
	if positions < 2 {
		return nil, fmt.Errorf("selector %d: need at least 2 positions, got %d", number, positions)
	}
	return &Selector{Controller: newController(number, client, log), positions: positions}, nil
}

func (s *Selector) PositionCount() int { return s.positions }

// Position reads the current raw value and inverts the mapping.
func (s *Selector) Position(ctx context.Context) (int, error) {
	raw, err := s.RawValue(ctx)
	if err != nil {
		return 0, err
	}
	return positionForRaw(raw, s.positions), nil
}

// SetPosition writes the mapped raw value locally, so observers fire at
// once, then waits for the device to acknowledge.
func (s *Selector) SetPosition(ctx context.Context, position int) error {
	if position < 1 || position > s.positions {
		return fmt.Errorf("selector %d: position %d out of range [1, %d]", s.number, position, s.positions)
	}
	s.setRawValue(rawForPosition(position, s.positions))
	return s.AssureCurrentState(ctx)
}

// DummySelector behaves like a Selector but performs no protocol I/O. Used
// for bench setups without a device.
type DummySelector struct {
	*Selector
}

// NewDummySelector returns a selector backed only by the local cache.
func NewDummySelector(number, positions int, log *slog.Logger) (*DummySelector, error) {
	sel, err := newSelector(number, positions, nil, log)
	if err != nil {
		return nil, err
	}
	return &DummySelector{Selector: sel}, nil
}

// SetPosition updates the local cache only.
func (s *DummySelector) SetPosition(_ context.Context, position int) error {
	if position < 1 || position > s.positions {
		return fmt.Errorf("selector %d: position %d out of range [1, %d]", s.number, position, s.positions)
	}
	s.setRawValue(rawForPosition(position, s.positions))
	return nil
}

// Button is an on/off control.
type Button struct {
	*Controller
}

func (b *Button) On(ctx context.Context) error {
	b.setRawValue(MaxRawValue)
	return b.AssureCurrentState(ctx)
}

func (b *Button) Off(ctx context.Context) error {
	b.setRawValue(0)
	return b.AssureCurrentState(ctx)
}

// Pressed reports whether the button value is non-zero.
func (b *Button) Pressed(ctx context.Context) (bool, error) {
	raw, err := b.RawValue(ctx)
	if err != nil {
		return false, err
	}
	return raw > 0, nil
}

func (b *Button) Set(ctx context.Context, on bool) error {
	if on {
		return b.On(ctx)
	}
	return b.Off(ctx)
}
