// ABOUTME: Routes decoded frames to registered callbacks with per-channel ordering.
// ABOUTME: Callback failures are isolated to an error sink and never block other callbacks.

package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pufferblow/pufferblow-go/internal/dedupe"
	"github.com/pufferblow/pufferblow-go/wire"
)

// MessageFunc handles an inbound chat message.
type MessageFunc func(*wire.Message) error

// ReceiptFunc handles an inbound read receipt.
type ReceiptFunc func(*wire.ReadReceipt) error

// ControlFunc handles an inbound control frame.
type ControlFunc func(*wire.Control) error

// ErrorSink receives callback failures. Errors are reported, never
// propagated: one failing callback must not affect the others.
type ErrorSink func(callback string, err error)

// jobBufferSize is the per-channel queue depth. Enqueueing blocks when
// full so channel ordering is preserved rather than dropping.
const jobBufferSize = 256

// queueKey selects the ordered queue a frame belongs to. Frames for the
// same channel always land on the same queue; DMs are serialized per
// conversation.
func messageQueueKey(m *wire.Message) string {
	if m.ChannelID != "" {
		return "channel:" + m.ChannelID
	}
	if m.ConversationID != "" {
		return "dm:" + m.ConversationID
	}
	return "global"
}

func receiptQueueKey(r *wire.ReadReceipt) string {
	if r.ChannelID != "" {
		return "channel:" + r.ChannelID
	}
	return "global"
}

type messageSub struct {
	name      string
	channelID string // "" means global
	exclusive bool   // owned by a channel socket: suppresses global delivery
	fn        MessageFunc
}

type receiptSub struct {
	name      string
	channelID string
	fn        ReceiptFunc
}

type controlSub struct {
	name string
	fn   ControlFunc
}

type queue struct {
	jobs chan func()
}

// Dispatcher fans decoded frames out to registered callbacks. Messages
// for the same channel are delivered in arrival order through one
// ordered queue per channel; no ordering is promised across channels.
type Dispatcher struct {
	logger *slog.Logger
	sink   ErrorSink
	seen   *dedupe.Cache

	mu          sync.RWMutex
	messageSubs map[string]*messageSub
	receiptSubs map[string]*receiptSub
	controlSubs map[string]*controlSub
	exclusive   map[string]int // channelID -> count of exclusive subs
	queues      map[string]*queue
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Dispatcher. seen suppresses replayed message ids across
// reconnects; sink may be nil, in which case failures are logged.
func New(logger *slog.Logger, seen *dedupe.Cache, sink ErrorSink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch")
	d := &Dispatcher{
		logger:      logger,
		seen:        seen,
		messageSubs: make(map[string]*messageSub),
		receiptSubs: make(map[string]*receiptSub),
		controlSubs: make(map[string]*controlSub),
		exclusive:   make(map[string]int),
		queues:      make(map[string]*queue),
		done:        make(chan struct{}),
	}
	if sink == nil {
		sink = func(callback string, err error) {
			logger.Warn("callback failed", "callback", callback, "error", err)
		}
	}
	d.sink = sink
	return d
}

// OnMessage registers a message callback. An empty channelID receives
// messages from every channel that has no exclusive channel-socket
// subscription. Returns a subscription id for Unsubscribe.
func (d *Dispatcher) OnMessage(name, channelID string, fn MessageFunc) string {
	return d.addMessage(name, channelID, false, fn)
}

// OnChannelMessages registers an exclusive channel-socket callback.
// While at least one exclusive subscription exists for a channel, global
// callbacks do not receive that channel's messages.
func (d *Dispatcher) OnChannelMessages(name, channelID string, fn MessageFunc) string {
	return d.addMessage(name, channelID, true, fn)
}

func (d *Dispatcher) addMessage(name, channelID string, exclusive bool, fn MessageFunc) string {
	id := uuid.New().String()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageSubs[id] = &messageSub{name: name, channelID: channelID, exclusive: exclusive, fn: fn}
	if exclusive && channelID != "" {
		d.exclusive[channelID]++
	}
	return id
}

// OnReadReceipt registers a read-receipt callback, optionally filtered
// by channel.
func (d *Dispatcher) OnReadReceipt(name, channelID string, fn ReceiptFunc) string {
	id := uuid.New().String()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receiptSubs[id] = &receiptSub{name: name, channelID: channelID, fn: fn}
	return id
}

// OnControl registers a control-frame callback.
func (d *Dispatcher) OnControl(name string, fn ControlFunc) string {
	id := uuid.New().String()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controlSubs[id] = &controlSub{name: name, fn: fn}
	return id
}

// Unsubscribe removes a subscription. Queued frames resolve liveness at
// invocation time, so a removed callback is never invoked afterwards.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.messageSubs[id]; ok {
		delete(d.messageSubs, id)
		if sub.exclusive && sub.channelID != "" {
			d.exclusive[sub.channelID]--
			if d.exclusive[sub.channelID] <= 0 {
				delete(d.exclusive, sub.channelID)
			}
		}
		return
	}
	if _, ok := d.receiptSubs[id]; ok {
		delete(d.receiptSubs, id)
		return
	}
	delete(d.controlSubs, id)
}

// Run consumes frames from one connection source until the source stops
// producing, ctx is cancelled, or the dispatcher closes. Multiple
// sources may be pumped concurrently; per-channel ordering holds because
// a channel lives on exactly one connection.
func (d *Dispatcher) Run(ctx context.Context, frames <-chan *wire.Frame, sourceDone <-chan struct{}) {
	for {
		select {
		case frame := <-frames:
			d.Dispatch(frame)
		case <-sourceDone:
			return
		case <-ctx.Done():
			return
		case <-d.done:
			return
		}
	}
}

// Dispatch routes one frame to the interested callbacks.
func (d *Dispatcher) Dispatch(frame *wire.Frame) {
	switch frame.Type {
	case wire.FrameMessage:
		d.dispatchMessage(frame.Message)
	case wire.FrameReadReceipt:
		d.dispatchReceipt(frame.ReadReceipt)
	case wire.FrameControl:
		d.dispatchControl(frame.Control)
	}
}

func (d *Dispatcher) dispatchMessage(msg *wire.Message) {
	if d.seen != nil && msg.ID != "" && d.seen.Seen(msg.ID) {
		d.logger.Debug("dropping replayed message", "message_id", msg.ID)
		return
	}

	d.mu.RLock()
	suppressGlobal := msg.ChannelID != "" && d.exclusive[msg.ChannelID] > 0
	var targets []string
	for id, sub := range d.messageSubs {
		switch {
		case sub.channelID == "":
			if !suppressGlobal {
				targets = append(targets, id)
			}
		case sub.channelID == msg.ChannelID:
			targets = append(targets, id)
		}
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	d.enqueue(messageQueueKey(msg), func() {
		for _, id := range targets {
			d.mu.RLock()
			sub, ok := d.messageSubs[id]
			d.mu.RUnlock()
			if !ok {
				continue
			}
			if err := sub.fn(msg); err != nil {
				d.sink(sub.name, err)
			}
		}
	})
}

func (d *Dispatcher) dispatchReceipt(rr *wire.ReadReceipt) {
	d.mu.RLock()
	var targets []string
	for id, sub := range d.receiptSubs {
		if sub.channelID == "" || sub.channelID == rr.ChannelID {
			targets = append(targets, id)
		}
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	d.enqueue(receiptQueueKey(rr), func() {
		for _, id := range targets {
			d.mu.RLock()
			sub, ok := d.receiptSubs[id]
			d.mu.RUnlock()
			if !ok {
				continue
			}
			if err := sub.fn(rr); err != nil {
				d.sink(sub.name, err)
			}
		}
	})
}

func (d *Dispatcher) dispatchControl(ctl *wire.Control) {
	d.mu.RLock()
	var targets []string
	for id := range d.controlSubs {
		targets = append(targets, id)
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	d.enqueue("control", func() {
		for _, id := range targets {
			d.mu.RLock()
			sub, ok := d.controlSubs[id]
			d.mu.RUnlock()
			if !ok {
				continue
			}
			if err := sub.fn(ctl); err != nil {
				d.sink(sub.name, err)
			}
		}
	})
}

// enqueue hands a job to the ordered queue for key, creating the queue
// and its consumer on first use. Blocks when the queue is full so order
// is never sacrificed to load.
func (d *Dispatcher) enqueue(key string, job func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	q, ok := d.queues[key]
	if !ok {
		q = &queue{jobs: make(chan func(), jobBufferSize)}
		d.queues[key] = q
		d.wg.Add(1)
		go d.consume(q)
	}
	d.mu.Unlock()

	select {
	case q.jobs <- job:
	case <-d.done:
	}
}

func (d *Dispatcher) consume(q *queue) {
	defer d.wg.Done()
	for {
		select {
		case job := <-q.jobs:
			job()
		case <-d.done:
			return
		}
	}
}

// Close stops all queue consumers. Pending undelivered jobs are dropped;
// no callback runs after Close returns.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
	})
	d.wg.Wait()
}
