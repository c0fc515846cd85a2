package symnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// initialPollTimeout bounds the value fetch that runs when a controller is
// defined, before the definition returns.
const initialPollTimeout = 10 * time.Second

// Device is one SymNet DSP reachable over connected UDP. It owns the
// protocol client and routes pushed controller states to the controllers
// defined on it.
type Device struct {
	client *Client
	log    *slog.Logger

	mu          sync.Mutex
	controllers map[int]*Controller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDevice opens a connected UDP endpoint from localAddr to remoteAddr and
// starts the receive and push-routing loops.
func NewDevice(localAddr, remoteAddr string, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}
	laddr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, fmt.Errorf("symnet: local address %q: %w", localAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp4", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("symnet: remote address %q: %w", remoteAddr, err)
	}
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("symnet: dial: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		client:      NewClient(conn, log),
		log:         log,
		controllers: make(map[int]*Controller),
		ctx:         ctx,
		cancel:      cancel,
	}
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.client.Listen()
	}()
	go func() {
		defer d.wg.Done()
		d.routePushes()
	}()
	return d, nil
}

// routePushes hands pushed controller states to the owning controller.
func (d *Device) routePushes() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case st := <-d.client.Push():
			d.mu.Lock()
			ctrl, ok := d.controllers[st.Number]
			d.mu.Unlock()
			if !ok {
				d.log.Debug("push for undefined controller", "controller", st.Number, "value", st.Value)
				continue
			}
			ctrl.setRawValue(st.Value)
		}
	}
}

func (d *Device) register(ctrl *Controller) {
	d.mu.Lock()
	d.controllers[ctrl.Number()] = ctrl
	d.mu.Unlock()

	// Fetch the device's current value before anyone writes to the
	// controller, so a late poll response cannot clobber a newer value. The
	// cache TTL forces a poll anyway if this one gets lost.
	ctx, cancel := context.WithTimeout(d.ctx, initialPollTimeout)
	defer cancel()
	if err := ctrl.Refresh(ctx); err != nil {
		d.log.Warn("initial controller poll failed", "controller", ctrl.Number(), "err", err)
	}
}

func checkNumber(number int) error {
	if number < 1 || number > MaxControllerNumber {
		return fmt.Errorf("symnet: controller number %d out of range [1, %d]", number, MaxControllerNumber)
	}
	return nil
}

// DefineController registers a plain controller on the device.
func (d *Device) DefineController(number int) (*Controller, error) {
	if err := checkNumber(number); err != nil {
		return nil, err
	}
	ctrl := newController(number, d.client, d.log)
	d.register(ctrl)
	return ctrl, nil
}

// DefineSelector registers a multi-position selector.
func (d *Device) DefineSelector(number, positions int) (*Selector, error) {
	if err := checkNumber(number); err != nil {
		return nil, err
	}
	sel, err := newSelector(number, positions, d.client, d.log)
	if err != nil {
		return nil, err
	}
	d.register(sel.Controller)
	return sel, nil
}

// DefineButton registers an on/off control.
func (d *Device) DefineButton(number int) (*Button, error) {
	if err := checkNumber(number); err != nil {
		return nil, err
	}
	btn := &Button{Controller: newController(number, d.client, d.log)}
	d.register(btn.Controller)
	return btn, nil
}

// Stats reports protocol round-trip statistics.
func (d *Device) Stats() string { return d.client.Stats() }

// Close cancels the loops and closes the transport. Requests still waiting
// are left to their contexts.
func (d *Device) Close() error {
	d.cancel()
	err := d.client.Close()
	d.wg.Wait()
	return err
}
