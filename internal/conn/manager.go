// ABOUTME: Connection lifecycle state machine with capped, jittered reconnection.
// ABOUTME: Owns one transport at a time and emits decoded frames in strict receipt order.

package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pufferblow/pufferblow-go/wire"
)

// State is the connection lifecycle state. Closed is terminal; a new
// Manager must be constructed to connect again.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected indicates a send was attempted while the connection
// was not in the Connected state.
var ErrNotConnected = errors.New("not connected")

// ErrClosed indicates the manager has been closed. Closed is terminal.
var ErrClosed = errors.New("connection closed")

// ErrAlreadyConnected indicates Connect was called on a manager that
// already started.
var ErrAlreadyConnected = errors.New("already connected")

// StatusFunc observes state transitions. err is non-nil for transitions
// caused by a failure, including the single terminal report when
// reconnection attempts are exhausted.
type StatusFunc func(state State, err error)

// Config holds reconnection and send-path tuning for a Manager.
type Config struct {
	BaseDelay   time.Duration // first backoff delay, default 1s
	MaxDelay    time.Duration // backoff ceiling, default 30s
	MaxRetries  int           // reconnect attempts before giving up, default 5
	DialTimeout time.Duration // per-attempt dial timeout, default 15s

	// SendLimit throttles outbound frames when non-zero. Off by default.
	SendLimit rate.Limit
	SendBurst int
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	return c
}

// frameBufferSize is the inbound buffer between the receive loop and the
// dispatcher. When full the receive loop blocks rather than dropping,
// preserving receipt order.
const frameBufferSize = 64

// Manager owns one transport connection's lifecycle: connect, send,
// receive, failure detection, and reconnection with capped exponential
// backoff. Sends are serialized internally; decoded inbound frames are
// published on Frames in strict receipt order.
type Manager struct {
	dialer   Dialer
	codec    *wire.Codec
	cfg      Config
	logger   *slog.Logger
	onStatus StatusFunc
	limiter  *rate.Limiter

	frames chan *wire.Frame
	done   chan struct{}

	mu         sync.Mutex
	state      State
	transport  Transport
	lastErr    error
	retryCount int

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a Manager that dials through dialer. onStatus may
// be nil. Pass nil logger for the default.
func NewManager(dialer Dialer, cfg Config, logger *slog.Logger, onStatus StatusFunc) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	limit := rate.Inf
	burst := 0
	if cfg.SendLimit > 0 {
		limit = cfg.SendLimit
		burst = cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
	}

	return &Manager{
		dialer:   dialer,
		codec:    wire.NewCodec(),
		cfg:      cfg,
		logger:   logger.With("component", "conn"),
		onStatus: onStatus,
		limiter:  rate.NewLimiter(limit, burst),
		frames:   make(chan *wire.Frame, frameBufferSize),
		done:     make(chan struct{}),
	}
}

// Frames returns the ordered stream of decoded inbound frames. The
// channel is never closed; consumers should also select on Done.
func (m *Manager) Frames() <-chan *wire.Frame {
	return m.frames
}

// Done is closed when the manager reaches the terminal Closed state.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect performs the initial handshake, blocking until it completes or
// ctx expires. A failed first attempt is not surfaced as an error: the
// manager transitions to Reconnecting and recovers in the background,
// reporting through the status callback per the propagation policy.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateDisconnected:
		m.state = StateConnecting
	default:
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("connect from state %s: %w", st, ErrAlreadyConnected)
	}
	m.mu.Unlock()
	m.notify(StateConnecting, nil)

	t, err := m.dialer.Dial(ctx)
	if err != nil {
		m.mu.Lock()
		if m.state != StateConnecting {
			m.mu.Unlock()
			return ErrClosed
		}
		m.lastErr = err
		m.state = StateReconnecting
		m.mu.Unlock()

		m.logger.Warn("initial connect failed, retrying", "error", err)
		m.notify(StateReconnecting, err)
		m.wg.Add(1)
		go m.reconnectLoop()
		return nil
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		t.Close()
		return ErrClosed
	}
	m.transport = t
	m.state = StateConnected
	m.retryCount = 0
	m.mu.Unlock()

	m.logger.Info("connected")
	m.notify(StateConnected, nil)
	m.wg.Add(1)
	go m.receiveLoop(t)
	return nil
}

// Send encodes and writes a frame. Writers are serialized so concurrent
// sends never interleave partial frames. Fails with ErrNotConnected if
// the connection is not currently Connected.
func (m *Manager) Send(ctx context.Context, f *wire.Frame) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send throttled: %w", err)
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateConnected || m.transport == nil {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("send in state %s: %w", st, ErrNotConnected)
	}
	t := m.transport
	m.mu.Unlock()

	data, err := m.codec.Encode(f)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	err = t.WriteFrame(data)
	m.writeMu.Unlock()
	if err != nil {
		m.handleDisconnect(err)
		return fmt.Errorf("connection lost during send: %w", ErrNotConnected)
	}
	return nil
}

// Close releases the transport and moves to the terminal Closed state.
// Safe to call from any state, more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.state = StateClosed
		if m.transport != nil {
			m.transport.Close()
			m.transport = nil
		}
		m.mu.Unlock()
		close(m.done)
		m.logger.Info("connection closed")
	})
	return nil
}

// receiveLoop reads frames from one transport epoch until it fails or
// the manager closes. Malformed frames are dropped and logged; the
// connection stays alive.
func (m *Manager) receiveLoop(t Transport) {
	defer m.wg.Done()

	for {
		data, err := t.ReadFrame()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		frame, err := m.codec.Decode(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		if frame.Type == wire.FrameControl && frame.Control.Op == wire.ControlPing {
			m.pong(t)
		}

		select {
		case m.frames <- frame:
		case <-m.done:
			return
		}
	}
}

// pong answers a server ping. Best effort: a write failure here will
// also surface on the next read.
func (m *Manager) pong(t Transport) {
	data, err := m.codec.Encode(&wire.Frame{
		Type:    wire.FrameControl,
		Control: &wire.Control{Op: wire.ControlPong},
	})
	if err != nil {
		return
	}
	m.writeMu.Lock()
	_ = t.WriteFrame(data)
	m.writeMu.Unlock()
}

// handleDisconnect reacts to a transport failure observed while
// Connected. No-op if the manager already left Connected (explicit close
// or a concurrent failure already handled).
func (m *Manager) handleDisconnect(err error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.state = StateReconnecting
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.mu.Unlock()

	m.logger.Warn("connection lost", "error", err)
	m.notify(StateReconnecting, err)
	m.wg.Add(1)
	go m.reconnectLoop()
}

// reconnectLoop waits out the backoff delay and redials until it
// succeeds, the retry cap is exhausted, or the manager closes. The
// backoff timer is a timed wait, never a process-wide sleep.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		retry := m.retryCount
		lastErr := m.lastErr
		m.mu.Unlock()

		if retry >= m.cfg.MaxRetries {
			m.logger.Error("reconnect attempts exhausted",
				"attempts", retry,
				"error", lastErr,
			)
			m.notify(StateClosed, fmt.Errorf("reconnect attempts exhausted after %d tries: %w", retry, lastErr))
			m.Close()
			return
		}

		delay := backoffDelay(m.cfg.BaseDelay, m.cfg.MaxDelay, retry)
		m.logger.Debug("waiting before reconnect",
			"attempt", retry+1,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-m.done:
			timer.Stop()
			return
		}

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.retryCount++
		m.mu.Unlock()
		m.notify(StateConnecting, nil)

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
		t, err := m.dialer.Dial(ctx)
		cancel()

		if err != nil {
			m.mu.Lock()
			if m.state != StateConnecting {
				m.mu.Unlock()
				return
			}
			m.lastErr = err
			m.state = StateReconnecting
			m.mu.Unlock()

			m.logger.Warn("reconnect attempt failed",
				"attempt", retry+1,
				"error", err,
			)
			m.notify(StateReconnecting, err)
			continue
		}

		m.mu.Lock()
		if m.state != StateConnecting {
			m.mu.Unlock()
			t.Close()
			return
		}
		m.transport = t
		m.state = StateConnected
		m.retryCount = 0
		m.mu.Unlock()

		m.logger.Info("reconnected", "attempts", retry+1)
		m.notify(StateConnected, nil)
		m.wg.Add(1)
		go m.receiveLoop(t)
		return
	}
}

// backoffDelay computes min(maxDelay, base*2^retry) plus uniform jitter
// in [0, delay/4).
func backoffDelay(base, max time.Duration, retry int) time.Duration {
	d := max
	if retry < 30 {
		if shifted := base << uint(retry); shifted > 0 && shifted < max {
			d = shifted
		}
	}
	jitter := time.Duration(rand.Int64N(int64(d)/4 + 1))
	return d + jitter
}

// notify invokes the status callback outside any lock.
func (m *Manager) notify(state State, err error) {
	if m.onStatus != nil {
		m.onStatus(state, err)
	}
}
