package symnet

import (
	"context"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDSP is a loopback UDP peer that answers polls and writes like the
// device would.
type fakeDSP struct {
	t    *testing.T
	conn *net.UDPConn

	mu     sync.Mutex
	values map[int]int
}

func (d *fakeDSP) value(num int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[num]
}

var (
	getReqRe = regexp.MustCompile(`^GS2 ([0-9]+)\r$`)
	setReqRe = regexp.MustCompile(`^CS ([0-9]+) ([0-9]+)\r$`)
)

func startFakeDSP(t *testing.T) *fakeDSP {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	d := &fakeDSP{t: t, conn: conn, values: map[int]int{}}
	t.Cleanup(func() { conn.Close() })
	go d.serve()
	return d
}

func (d *fakeDSP) addr() string { return d.conn.LocalAddr().String() }

func (d *fakeDSP) serve() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req := string(buf[:n])
		switch {
		case getReqRe.MatchString(req):
			m := getReqRe.FindStringSubmatch(req)
			num, _ := strconv.Atoi(m[1])
			d.conn.WriteToUDP([]byte(m[1]+" "+strconv.Itoa(d.value(num))+"\r"), addr)
		case setReqRe.MatchString(req):
			m := setReqRe.FindStringSubmatch(req)
			num, _ := strconv.Atoi(m[1])
			value, _ := strconv.Atoi(m[2])
			d.mu.Lock()
			d.values[num] = value
			d.mu.Unlock()
			d.conn.WriteToUDP([]byte("ACK\r"), addr)
		default:
			d.conn.WriteToUDP([]byte("NAK\r"), addr)
		}
	}
}

func (d *fakeDSP) pushTo(addr net.Addr, line string) {
	udp, err := net.ResolveUDPAddr("udp4", addr.String())
	require.NoError(d.t, err)
	_, err = d.conn.WriteToUDP([]byte(line), udp)
	require.NoError(d.t, err)
}

func TestDevice_SelectorRoundTrip(t *testing.T) {
	dsp := startFakeDSP(t)
	dev, err := NewDevice("127.0.0.1:0", dsp.addr(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	sel, err := dev.DefineSelector(7, 3)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sel.SetPosition(ctx, 2))
	assert.Equal(t, 32768, dsp.value(7))

	pos, err := sel.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestDevice_SetPositionRejectsOutOfRange(t *testing.T) {
	dsp := startFakeDSP(t)
	dev, err := NewDevice("127.0.0.1:0", dsp.addr(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	sel, err := dev.DefineSelector(7, 3)
	require.NoError(t, err)

	assert.Error(t, sel.SetPosition(context.Background(), 0))
	assert.Error(t, sel.SetPosition(context.Background(), 4))
}

func TestDevice_NAKSurfacesAsError(t *testing.T) {
	dsp := startFakeDSP(t)
	dev, err := NewDevice("127.0.0.1:0", dsp.addr(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	// The fake device NAKs everything it does not understand; a controller
	// poll out of its vocabulary still answers, so force a NAK via a raw
	// request.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = dev.client.Request(ctx, "BOGUS\r", ExpectLines(1))
	assert.ErrorIs(t, err, ErrNAK)
}

func TestDevice_PushRoutesToController(t *testing.T) {
	dsp := startFakeDSP(t)
	dev, err := NewDevice("127.0.0.1:0", dsp.addr(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	btn, err := dev.DefineButton(9)
	require.NoError(t, err)

	changed := make(chan int, 1)
	btn.AddObserver(func(_ *Controller, _, newValue int) {
		changed <- newValue
	})

	// The client's local address is the connected socket's address.
	local := dev.client.conn.(*net.UDPConn).LocalAddr()
	dsp.pushTo(local, "#00009=65535\r")

	select {
	case v := <-changed:
		assert.Equal(t, MaxRawValue, v)
	case <-time.After(5 * time.Second):
		t.Fatal("push never reached the controller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pressed, err := btn.Pressed(ctx)
	require.NoError(t, err)
	assert.True(t, pressed)
}

func TestDevice_RejectsBadControllerNumbers(t *testing.T) {
	dsp := startFakeDSP(t)
	dev, err := NewDevice("127.0.0.1:0", dsp.addr(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	_, err = dev.DefineController(0)
	assert.Error(t, err)
	_, err = dev.DefineController(MaxControllerNumber + 1)
	assert.Error(t, err)
}
