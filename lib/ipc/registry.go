// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"sync"

	"github.com/nucleus-foundation/nucleus/lib/capability"
	"github.com/nucleus-foundation/nucleus/lib/kerror"
	"github.com/nucleus-foundation/nucleus/lib/sched"
	"github.com/nucleus-foundation/nucleus/lib/trace"
)

// inFlightOwner is the pseudo-owner holding a delegated capability
// between acceptance into a queue and delivery to the receiver. It is
// not a valid task identifier, so neither endpoint can use the
// capability while the message is in flight.
const inFlightOwner uint64 = 0

// Waker is how the registry completes operations of blocked tasks.
// The kernel implements it: each method stashes the completion result
// and marks the task Ready. Implementations must not call back into
// the Registry; every method is invoked with the registry lock held.
type Waker interface {
	// CompleteSend reports that a blocked send was accepted into the
	// channel queue.
	CompleteSend(task sched.TaskID)

	// CompleteReceive delivers messages to a blocked receive or
	// receive-batch call.
	CompleteReceive(task sched.TaskID, messages []Message)

	// CompleteClosed reports that the channel a task was blocked on
	// has been closed.
	CompleteClosed(task sched.TaskID)
}

// pendingSend is a sender blocked on a full channel, together with
// the message it is waiting to enqueue. The message's delegated
// capabilities were validated when the send call was made and remain
// owned by the sender until acceptance.
type pendingSend struct {
	task    sched.TaskID
	message Message
}

// pendingReceive is a receiver blocked on an empty channel. max is
// the batch size it asked for (1 for plain receive).
type pendingReceive struct {
	task sched.TaskID
	max  int
}

// endpoint resolves a capability's resource to its channel and
// direction.
type endpoint struct {
	ch     *channel
	isSend bool
}

// channel is one bounded FIFO queue. All fields are guarded by the
// registry lock.
type channel struct {
	id       ChannelID
	capacity int

	queue        []Message
	nextSequence uint64

	sendResource capability.ResourceID
	recvResource capability.ResourceID

	pendingSenders   []pendingSend
	pendingReceivers []pendingReceive
}

// Registry owns every channel in the system. All methods are safe for
// concurrent use; each takes one short exclusive critical section.
type Registry struct {
	mu sync.Mutex

	caps  *capability.Table
	ring  *trace.Ring
	waker Waker

	maxChannels     int
	defaultCapacity int

	nextID     ChannelID
	channels   map[ChannelID]*channel
	byResource map[capability.ResourceID]*endpoint

	sent          uint64
	received      uint64
	channelsMade  uint64
	channelsShut  uint64
	sendsBlocked  uint64
	recvsBlocked  uint64
}

// New creates a channel registry. maxChannels bounds the channel
// table; defaultCapacity is used when Create is called with a
// non-positive capacity. The Waker is wired afterwards with SetWaker
// because the kernel constructs the registry before the component
// that implements waking.
func New(caps *capability.Table, ring *trace.Ring, maxChannels, defaultCapacity int) *Registry {
	if defaultCapacity < 1 {
		defaultCapacity = 64
	}
	return &Registry{
		caps:            caps,
		ring:            ring,
		maxChannels:     maxChannels,
		defaultCapacity: defaultCapacity,
		channels:        make(map[ChannelID]*channel),
		byResource:      make(map[capability.ResourceID]*endpoint),
	}
}

// SetWaker installs the completion sink. Must be called before any
// channel operation.
func (r *Registry) SetWaker(waker Waker) { r.waker = waker }

// Create allocates a channel and mints its two root capabilities: a
// send capability and a receive capability, both owned by owner and
// both grantable and revocable. capacity <= 0 selects the configured
// default.
func (r *Registry) Create(owner sched.TaskID, capacity int) (ChannelID, capability.ID, capability.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.channels) >= r.maxChannels {
		return 0, capability.ID{}, capability.ID{},
			fmt.Errorf("%w: channel table at capacity %d", kerror.ErrResourceExhausted, r.maxChannels)
	}
	if capacity <= 0 {
		capacity = r.defaultCapacity
	}

	r.nextID++
	ch := &channel{
		id:           r.nextID,
		capacity:     capacity,
		sendResource: r.caps.NewResource(capability.ClassChannelEndpoint),
		recvResource: r.caps.NewResource(capability.ClassChannelEndpoint),
	}

	sendCap, err := r.caps.Create(ch.sendResource,
		capability.RightSend|capability.RightGrant|capability.RightRevoke, uint64(owner))
	if err != nil {
		return 0, capability.ID{}, capability.ID{}, err
	}
	recvCap, err := r.caps.Create(ch.recvResource,
		capability.RightReceive|capability.RightGrant|capability.RightRevoke, uint64(owner))
	if err != nil {
		return 0, capability.ID{}, capability.ID{}, err
	}

	r.channels[ch.id] = ch
	r.byResource[ch.sendResource] = &endpoint{ch: ch, isSend: true}
	r.byResource[ch.recvResource] = &endpoint{ch: ch, isSend: false}
	r.channelsMade++

	r.ring.Emit(trace.CategoryIPC, trace.CodeChannelCreate, uint64(owner), uint64(ch.id))
	return ch.id, sendCap, recvCap, nil
}

// lookupLocked validates the presented capability for caller and
// required rights, then resolves it to a channel endpoint. Fails the
// whole operation before any queue state is touched: a capability
// problem is a security error, and a live endpoint capability whose
// channel is no longer registered means the channel was closed and
// destroyed. Caller holds r.mu.
func (r *Registry) lookupLocked(caller sched.TaskID, capID capability.ID, required capability.Rights, wantSend bool) (*channel, error) {
	record, err := r.caps.ValidateHeldBy(capID, required, uint64(caller))
	if err != nil {
		return nil, err
	}
	ep, ok := r.byResource[record.Resource]
	if !ok {
		if record.Class == capability.ClassChannelEndpoint {
			return nil, fmt.Errorf("%w: endpoint %d", kerror.ErrChannelClosed, record.Resource)
		}
		return nil, fmt.Errorf("%w: capability does not match channel endpoint", kerror.ErrSecurity)
	}
	if ep.isSend != wantSend {
		return nil, fmt.Errorf("%w: capability does not match channel endpoint", kerror.ErrSecurity)
	}
	return ep.ch, nil
}

// validateDelegationLocked checks that every capability attached to a
// message is live and held by the sender. All-or-nothing: any failure
// fails the send before the queue is touched. Caller holds r.mu.
func (r *Registry) validateDelegationLocked(caller sched.TaskID, message Message) error {
	for _, id := range message.Caps {
		if _, err := r.caps.ValidateHeldBy(id, 0, uint64(caller)); err != nil {
			return fmt.Errorf("delegating capability %s: %w", id, err)
		}
	}
	return nil
}

// acceptLocked stamps a message with the channel's next sequence
// number, moves its delegated capabilities to the in-flight owner,
// and appends it to the queue. A capability revoked between the send
// call and acceptance simply fails its transfer: the message is
// delivered carrying a dead identifier, matching the revocation
// policy that the epoch, not queue position, decides validity.
// Caller holds r.mu and has checked for space.
func (r *Registry) acceptLocked(ch *channel, caller sched.TaskID, message Message) {
	message.Sender = caller
	message.Sequence = ch.nextSequence
	ch.nextSequence++
	for _, id := range message.Caps {
		_ = r.caps.Transfer(id, inFlightOwner)
	}
	ch.queue = append(ch.queue, message)
	r.sent++
}

// deliverLocked hands queued messages to blocked receivers, oldest
// receiver first, transferring in-flight capabilities to each
// recipient. Called after acceptance so batch sends transfer every
// message before the first wake-up. Caller holds r.mu.
func (r *Registry) deliverLocked(ch *channel) {
	for len(ch.pendingReceivers) > 0 && len(ch.queue) > 0 {
		waiter := ch.pendingReceivers[0]
		ch.pendingReceivers = ch.pendingReceivers[1:]

		count := waiter.max
		if count > len(ch.queue) {
			count = len(ch.queue)
		}
		messages := make([]Message, count)
		copy(messages, ch.queue[:count])
		ch.queue = ch.queue[count:]

		for i := range messages {
			r.transferToLocked(messages[i], waiter.task)
		}
		r.received += uint64(count)
		r.waker.CompleteReceive(waiter.task, messages)
	}
}

// refillLocked moves blocked senders' messages into space freed by a
// receive, completing each sender before the receive call returns.
// Caller holds r.mu.
func (r *Registry) refillLocked(ch *channel) {
	for len(ch.pendingSenders) > 0 && len(ch.queue) < ch.capacity {
		sender := ch.pendingSenders[0]
		ch.pendingSenders = ch.pendingSenders[1:]
		r.acceptLocked(ch, sender.task, sender.message)
		r.waker.CompleteSend(sender.task)
	}
}

// transferToLocked moves a delivered message's capabilities to the
// recipient. Transfers of capabilities revoked mid-flight fail
// silently: the recipient receives a dead identifier. Caller holds
// r.mu.
func (r *Registry) transferToLocked(message Message, recipient sched.TaskID) {
	for _, id := range message.Caps {
		_ = r.caps.Transfer(id, uint64(recipient))
	}
}

// Send enqueues one message. With blocking true, a full channel
// reports blocked=true: the kernel suspends the caller, and the
// registry completes the send through the Waker once space frees.
// With blocking false, a full channel fails with ChannelFull.
func (r *Registry) Send(caller sched.TaskID, capID capability.ID, message Message, blocking bool) (blocked bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(caller, capID, capability.RightSend, true)
	if err != nil {
		return false, err
	}
	if err := r.validateDelegationLocked(caller, message); err != nil {
		return false, err
	}

	if len(ch.queue) >= ch.capacity {
		if !blocking {
			return false, fmt.Errorf("%w: channel %d", kerror.ErrChannelFull, ch.id)
		}
		ch.pendingSenders = append(ch.pendingSenders, pendingSend{task: caller, message: message})
		r.sendsBlocked++
		return true, nil
	}

	r.acceptLocked(ch, caller, message)
	r.deliverLocked(ch)
	r.ring.Emit(trace.CategoryIPC, trace.CodeSend, uint64(caller), uint64(ch.id))
	return false, nil
}

// SendBatch enqueues messages in order until all are accepted or the
// channel fills, then wakes blocked receivers at most once per
// receiver, never once per message. The result is observationally
// equivalent to the same sequence of non-blocking single sends: the
// returned count says how many were accepted, and err carries the
// failure that stopped the batch, if any.
func (r *Registry) SendBatch(caller sched.TaskID, capID capability.ID, messages []Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(caller, capID, capability.RightSend, true)
	if err != nil {
		return 0, err
	}

	accepted := 0
	var failure error
	for _, message := range messages {
		if len(ch.queue) >= ch.capacity {
			failure = fmt.Errorf("%w: channel %d", kerror.ErrChannelFull, ch.id)
			break
		}
		if err := r.validateDelegationLocked(caller, message); err != nil {
			failure = err
			break
		}
		r.acceptLocked(ch, caller, message)
		accepted++
	}

	// All accepted messages are in the queue before the first wake.
	r.deliverLocked(ch)
	if accepted > 0 {
		r.ring.Emit(trace.CategoryIPC, trace.CodeSendBatch, uint64(caller), uint64(accepted))
	}
	return accepted, failure
}

// Receive dequeues the oldest message. With blocking true, an empty
// open channel reports blocked=true and the message arrives later
// through the Waker. With blocking false, an empty channel fails with
// ChannelEmpty. A closed channel always fails with ChannelClosed.
// Any sender blocked on a full queue is completed (made Ready)
// before Receive returns the freed slot's message.
func (r *Registry) Receive(caller sched.TaskID, capID capability.ID, blocking bool) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(caller, capID, capability.RightReceive, false)
	if err != nil {
		return Message{}, false, err
	}

	if len(ch.queue) > 0 {
		message := ch.queue[0]
		ch.queue = ch.queue[1:]
		r.transferToLocked(message, caller)
		r.received++
		r.refillLocked(ch)
		r.ring.Emit(trace.CategoryIPC, trace.CodeReceive, uint64(caller), uint64(ch.id))
		return message, false, nil
	}

	if !blocking {
		return Message{}, false, fmt.Errorf("%w: channel %d", kerror.ErrChannelEmpty, ch.id)
	}
	ch.pendingReceivers = append(ch.pendingReceivers, pendingReceive{task: caller, max: 1})
	r.recvsBlocked++
	return Message{}, true, nil
}

// ReceiveBatch dequeues up to max messages in acceptance order. The
// blocking/empty/closed behavior matches Receive; a blocked batch
// receiver is completed with as many messages as have arrived when
// the channel first becomes non-empty, up to max.
func (r *Registry) ReceiveBatch(caller sched.TaskID, capID capability.ID, max int, blocking bool) ([]Message, bool, error) {
	if max < 1 {
		max = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.lookupLocked(caller, capID, capability.RightReceive, false)
	if err != nil {
		return nil, false, err
	}

	if len(ch.queue) > 0 {
		count := max
		if count > len(ch.queue) {
			count = len(ch.queue)
		}
		messages := make([]Message, count)
		copy(messages, ch.queue[:count])
		ch.queue = ch.queue[count:]
		for i := range messages {
			r.transferToLocked(messages[i], caller)
		}
		r.received += uint64(count)
		r.refillLocked(ch)
		r.ring.Emit(trace.CategoryIPC, trace.CodeReceiveBatch, uint64(caller), uint64(count))
		return messages, false, nil
	}

	if !blocking {
		return nil, false, fmt.Errorf("%w: channel %d", kerror.ErrChannelEmpty, ch.id)
	}
	ch.pendingReceivers = append(ch.pendingReceivers, pendingReceive{task: caller, max: max})
	r.recvsBlocked++
	return nil, true, nil
}

// Close closes the channel behind either endpoint capability. Every
// blocked sender and receiver is woken with a closed-channel result,
// unread messages are discarded, and in-flight delegations riding
// those messages are destroyed. The channel is then removed from the
// table, freeing its slot; subsequent operations through either
// endpoint fail with ChannelClosed.
func (r *Registry) Close(caller sched.TaskID, capID capability.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.caps.ValidateHeldBy(capID, 0, uint64(caller))
	if err != nil {
		return err
	}
	ep, ok := r.byResource[record.Resource]
	if !ok {
		if record.Class == capability.ClassChannelEndpoint {
			return fmt.Errorf("%w: endpoint %d", kerror.ErrChannelClosed, record.Resource)
		}
		return fmt.Errorf("%w: capability does not match channel endpoint", kerror.ErrSecurity)
	}
	r.closeLocked(ep.ch)
	return nil
}

// closeLocked wakes every waiter, discards the queue, and removes the
// channel from the table so the slot is reusable. Caller holds r.mu.
func (r *Registry) closeLocked(ch *channel) {
	for _, message := range ch.queue {
		for _, id := range message.Caps {
			r.caps.Discard(id)
		}
	}
	ch.queue = nil

	for _, sender := range ch.pendingSenders {
		r.waker.CompleteClosed(sender.task)
	}
	ch.pendingSenders = nil
	for _, waiter := range ch.pendingReceivers {
		r.waker.CompleteClosed(waiter.task)
	}
	ch.pendingReceivers = nil

	delete(r.byResource, ch.sendResource)
	delete(r.byResource, ch.recvResource)
	delete(r.channels, ch.id)

	r.channelsShut++
	r.ring.Emit(trace.CategoryIPC, trace.CodeChannelClose, 0, uint64(ch.id))
}

// CloseEndpoints closes every open channel whose endpoint resources
// appear in resources. The kernel calls this during task teardown
// with the resources the capability table just revoked as exclusively
// owned by the dying task; channels already closed are simply no
// longer in the table.
func (r *Registry) CloseEndpoints(resources []capability.ResourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, resource := range resources {
		if ep, ok := r.byResource[resource]; ok {
			r.closeLocked(ep.ch)
		}
	}
}

// CancelPending removes a task from every wait list. Used when a
// blocked task's deadline expires or when it is terminated; returns
// whether the task was actually waiting anywhere.
func (r *Registry) CancelPending(task sched.TaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for _, ch := range r.channels {
		for i, sender := range ch.pendingSenders {
			if sender.task == task {
				ch.pendingSenders = append(ch.pendingSenders[:i], ch.pendingSenders[i+1:]...)
				found = true
				break
			}
		}
		for i, waiter := range ch.pendingReceivers {
			if waiter.task == task {
				ch.pendingReceivers = append(ch.pendingReceivers[:i], ch.pendingReceivers[i+1:]...)
				found = true
				break
			}
		}
	}
	return found
}

// Stats returns counters for the diagnostic status surface.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		ChannelsActive:   len(r.channels),
		ChannelsCreated:  r.channelsMade,
		ChannelsClosed:   r.channelsShut,
		MessagesSent:     r.sent,
		MessagesReceived: r.received,
		SendsBlocked:     r.sendsBlocked,
		ReceivesBlocked:  r.recvsBlocked,
	}
}

// Stats summarizes registry state.
type Stats struct {
	ChannelsActive   int    `cbor:"channels_active"`
	ChannelsCreated  uint64 `cbor:"channels_created"`
	ChannelsClosed   uint64 `cbor:"channels_closed"`
	MessagesSent     uint64 `cbor:"messages_sent"`
	MessagesReceived uint64 `cbor:"messages_received"`
	SendsBlocked     uint64 `cbor:"sends_blocked"`
	ReceivesBlocked  uint64 `cbor:"receives_blocked"`
}
