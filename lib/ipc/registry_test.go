// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"testing"
	"time"

	"github.com/nucleus-foundation/nucleus/lib/capability"
	"github.com/nucleus-foundation/nucleus/lib/kerror"
	"github.com/nucleus-foundation/nucleus/lib/sched"
	"github.com/nucleus-foundation/nucleus/lib/trace"
)

// recordingWaker captures completions for assertions.
type recordingWaker struct {
	sends    []sched.TaskID
	receives map[sched.TaskID][]Message
	closes   []sched.TaskID
}

func newRecordingWaker() *recordingWaker {
	return &recordingWaker{receives: make(map[sched.TaskID][]Message)}
}

func (w *recordingWaker) CompleteSend(task sched.TaskID) { w.sends = append(w.sends, task) }

func (w *recordingWaker) CompleteReceive(task sched.TaskID, messages []Message) {
	w.receives[task] = append(w.receives[task], messages...)
}

func (w *recordingWaker) CompleteClosed(task sched.TaskID) { w.closes = append(w.closes, task) }

func newTestRegistry(t *testing.T, maxChannels int) (*Registry, *capability.Table, *recordingWaker) {
	t.Helper()
	table, err := capability.NewTable(trace.New(256, time.Now))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	registry := New(table, trace.New(256, time.Now), maxChannels, 64)
	waker := newRecordingWaker()
	registry.SetWaker(waker)
	return registry, table, waker
}

func mustCreate(t *testing.T, registry *Registry, owner sched.TaskID, capacity int) (ChannelID, capability.ID, capability.ID) {
	t.Helper()
	id, sendCap, recvCap, err := registry.Create(owner, capacity)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id, sendCap, recvCap
}

// mustTransfer hands a capability to another task, the way a parent
// seeds a child endpoint before any traffic flows.
func mustTransfer(t *testing.T, table *capability.Table, id capability.ID, to sched.TaskID) {
	t.Helper()
	if err := table.Transfer(id, uint64(to)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
}

func TestSendReceiveFIFO(t *testing.T) {
	t.Parallel()
	registry, table, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 4)
	mustTransfer(t, table, recvCap, 2)

	for i := byte(0); i < 3; i++ {
		if blocked, err := registry.Send(1, sendCap, Message{Kind: KindRequest, Payload: []byte{i}}, false); err != nil || blocked {
			t.Fatalf("Send %d: blocked=%v err=%v", i, blocked, err)
		}
	}

	for i := byte(0); i < 3; i++ {
		message, blocked, err := registry.Receive(2, recvCap, false)
		if err != nil || blocked {
			t.Fatalf("Receive %d: blocked=%v err=%v", i, blocked, err)
		}
		if message.Payload[0] != i {
			t.Fatalf("out of order: got payload %d, want %d", message.Payload[0], i)
		}
		if message.Sequence != uint64(i) {
			t.Fatalf("sequence: got %d, want %d", message.Sequence, i)
		}
		if message.Sender != 1 {
			t.Fatalf("sender: got %d, want 1", message.Sender)
		}
	}
}

func TestSendWithWrongCapability(t *testing.T) {
	t.Parallel()
	registry, _, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 4)

	// Receive capability cannot send, send capability cannot receive.
	if _, err := registry.Send(1, recvCap, Message{}, false); !errors.Is(err, kerror.ErrSecurity) {
		t.Fatalf("send with receive capability: got %v, want security error", err)
	}
	if _, _, err := registry.Receive(1, sendCap, false); !errors.Is(err, kerror.ErrSecurity) {
		t.Fatalf("receive with send capability: got %v, want security error", err)
	}

	// A capability held by another task cannot be presented.
	if _, err := registry.Send(2, sendCap, Message{}, false); !errors.Is(err, kerror.ErrSecurity) {
		t.Fatalf("send with foreign capability: got %v, want security error", err)
	}
}

func TestNonBlockingFullAndEmpty(t *testing.T) {
	t.Parallel()
	registry, _, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 1)

	if _, _, err := registry.Receive(1, recvCap, false); !errors.Is(err, kerror.ErrChannelEmpty) {
		t.Fatalf("empty receive: got %v, want channel-empty", err)
	}
	if _, err := registry.Send(1, sendCap, Message{}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := registry.Send(1, sendCap, Message{}, false); !errors.Is(err, kerror.ErrChannelFull) {
		t.Fatalf("full send: got %v, want channel-full", err)
	}
}

func TestBlockedSenderCompletedByReceive(t *testing.T) {
	t.Parallel()
	registry, table, waker := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 1)
	mustTransfer(t, table, recvCap, 2)

	if _, err := registry.Send(1, sendCap, Message{Payload: []byte{0}}, true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	blocked, err := registry.Send(1, sendCap, Message{Payload: []byte{1}}, true)
	if err != nil {
		t.Fatalf("blocking send: %v", err)
	}
	if !blocked {
		t.Fatal("second send on capacity-1 channel should block")
	}

	// The receive frees the slot; the blocked sender's message moves
	// into the queue and the sender is completed before Receive returns.
	message, _, err := registry.Receive(2, recvCap, false)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if message.Payload[0] != 0 {
		t.Fatalf("got payload %d, want 0", message.Payload[0])
	}
	if len(waker.sends) != 1 || waker.sends[0] != 1 {
		t.Fatalf("blocked sender not completed: %v", waker.sends)
	}

	// The moved message is already queued; the sender must not resend.
	message, _, err = registry.Receive(2, recvCap, false)
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if message.Payload[0] != 1 {
		t.Fatalf("got payload %d, want 1", message.Payload[0])
	}
	if _, _, err := registry.Receive(2, recvCap, false); !errors.Is(err, kerror.ErrChannelEmpty) {
		t.Fatalf("queue should be empty, got %v", err)
	}
}

func TestBlockedReceiverCompletedBySend(t *testing.T) {
	t.Parallel()
	registry, table, waker := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 4)
	mustTransfer(t, table, recvCap, 2)

	_, blocked, err := registry.Receive(2, recvCap, true)
	if err != nil {
		t.Fatalf("blocking receive: %v", err)
	}
	if !blocked {
		t.Fatal("receive on empty channel should block")
	}

	if _, err := registry.Send(1, sendCap, Message{Payload: []byte("hi")}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := waker.receives[2]
	if len(got) != 1 || string(got[0].Payload) != "hi" {
		t.Fatalf("blocked receiver completion: %v", got)
	}
}

func TestSendBatchSingleWake(t *testing.T) {
	t.Parallel()
	registry, table, waker := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 8)
	mustTransfer(t, table, recvCap, 2)

	got, blocked, err := registry.ReceiveBatch(2, recvCap, 8, true)
	if err != nil || !blocked || got != nil {
		t.Fatalf("blocking batch receive: messages=%v blocked=%v err=%v", got, blocked, err)
	}

	messages := []Message{
		{Payload: []byte{0}},
		{Payload: []byte{1}},
		{Payload: []byte{2}},
	}
	accepted, err := registry.SendBatch(1, sendCap, messages)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if accepted != 3 {
		t.Fatalf("accepted %d, want 3", accepted)
	}

	// One completion carrying all three messages, not one per message.
	got = waker.receives[2]
	if len(got) != 3 {
		t.Fatalf("batch receiver got %d messages, want 3", len(got))
	}
	for i, message := range got {
		if message.Sequence != uint64(i) || message.Payload[0] != byte(i) {
			t.Fatalf("message %d out of order: seq=%d payload=%d", i, message.Sequence, message.Payload[0])
		}
	}
}

func TestSendBatchPartialOnFull(t *testing.T) {
	t.Parallel()
	registry, table, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 2)
	mustTransfer(t, table, recvCap, 2)

	messages := []Message{
		{Payload: []byte{0}},
		{Payload: []byte{1}},
		{Payload: []byte{2}},
	}
	accepted, err := registry.SendBatch(1, sendCap, messages)
	if !errors.Is(err, kerror.ErrChannelFull) {
		t.Fatalf("got %v, want channel-full", err)
	}
	if accepted != 2 {
		t.Fatalf("accepted %d, want 2", accepted)
	}

	got, _, err := registry.ReceiveBatch(2, recvCap, 8, false)
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if len(got) != 2 || got[0].Payload[0] != 0 || got[1].Payload[0] != 1 {
		t.Fatalf("partial batch delivered wrong prefix: %v", got)
	}
}

func TestDelegationTransfersOwnership(t *testing.T) {
	t.Parallel()
	registry, table, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 4)
	mustTransfer(t, table, recvCap, 2)

	resource := table.NewResource(capability.ClassMemoryRegion)
	delegated, err := table.Create(resource, capability.RightRead, 1)
	if err != nil {
		t.Fatalf("Create delegated: %v", err)
	}

	if _, err := registry.Send(1, sendCap, Message{Caps: []capability.ID{delegated}}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// In flight: neither sender nor receiver holds the capability.
	if _, err := table.ValidateHeldBy(delegated, capability.RightRead, 1); !errors.Is(err, kerror.ErrSecurity) {
		t.Fatalf("sender should no longer hold delegated capability: %v", err)
	}

	message, _, err := registry.Receive(2, recvCap, false)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, err := table.ValidateHeldBy(message.Caps[0], capability.RightRead, 2); err != nil {
		t.Fatalf("receiver should hold delegated capability: %v", err)
	}
}

func TestDelegationOfForeignCapabilityFails(t *testing.T) {
	t.Parallel()
	registry, table, _ := newTestRegistry(t, 8)
	_, sendCap, _ := mustCreate(t, registry, 1, 4)

	resource := table.NewResource(capability.ClassMemoryRegion)
	foreign, err := table.Create(resource, capability.RightRead, 7)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Delegating a capability the sender does not hold fails the whole
	// send; nothing is enqueued.
	if _, err := registry.Send(1, sendCap, Message{Caps: []capability.ID{foreign}}, false); !errors.Is(err, kerror.ErrSecurity) {
		t.Fatalf("got %v, want security error", err)
	}
	if stats := registry.Stats(); stats.MessagesSent != 0 {
		t.Fatalf("message enqueued despite failed delegation: %+v", stats)
	}
}

func TestRevokedMidFlightDeliveredDead(t *testing.T) {
	t.Parallel()
	registry, table, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 4)
	mustTransfer(t, table, recvCap, 2)

	resource := table.NewResource(capability.ClassMemoryRegion)
	delegated, err := table.Create(resource, capability.RightRead, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := registry.Send(1, sendCap, Message{Caps: []capability.ID{delegated}}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := table.Revoke(delegated); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The message still arrives; the identifier it carries is dead.
	message, _, err := registry.Receive(2, recvCap, false)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, err := table.Validate(message.Caps[0], 0); !errors.Is(err, kerror.ErrSecurity) {
		t.Fatalf("revoked capability should be dead on arrival: %v", err)
	}
}

func TestCloseWakesEveryoneAndDestroys(t *testing.T) {
	t.Parallel()
	registry, table, waker := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 1)
	mustTransfer(t, table, recvCap, 2)

	if _, err := registry.Send(1, sendCap, Message{}, true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if blocked, err := registry.Send(1, sendCap, Message{}, true); err != nil || !blocked {
		t.Fatalf("blocking send: blocked=%v err=%v", blocked, err)
	}

	if err := registry.Close(2, recvCap); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(waker.closes) != 1 || waker.closes[0] != 1 {
		t.Fatalf("blocked sender not woken with closed: %v", waker.closes)
	}

	if _, err := registry.Send(1, sendCap, Message{}, false); !errors.Is(err, kerror.ErrChannelClosed) {
		t.Fatalf("send after close: got %v, want channel-closed", err)
	}
	if _, _, err := registry.Receive(2, recvCap, false); !errors.Is(err, kerror.ErrChannelClosed) {
		t.Fatalf("receive after close: got %v, want channel-closed", err)
	}
	if err := registry.Close(2, recvCap); !errors.Is(err, kerror.ErrChannelClosed) {
		t.Fatalf("double close: got %v, want channel-closed", err)
	}
}

func TestCloseDiscardsInFlightDelegations(t *testing.T) {
	t.Parallel()
	registry, table, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 4)

	resource := table.NewResource(capability.ClassMemoryRegion)
	delegated, err := table.Create(resource, capability.RightRead, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.Send(1, sendCap, Message{Caps: []capability.ID{delegated}}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := registry.Close(1, recvCap); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := table.Validate(delegated, 0); !errors.Is(err, kerror.ErrSecurity) {
		t.Fatalf("in-flight delegation should be destroyed by close: %v", err)
	}
}

func TestCancelPending(t *testing.T) {
	t.Parallel()
	registry, _, _ := newTestRegistry(t, 8)
	_, _, recvCap := mustCreate(t, registry, 2, 4)

	if _, blocked, err := registry.Receive(2, recvCap, true); err != nil || !blocked {
		t.Fatalf("blocking receive: blocked=%v err=%v", blocked, err)
	}
	if !registry.CancelPending(2) {
		t.Fatal("CancelPending should find the blocked receiver")
	}
	if registry.CancelPending(2) {
		t.Fatal("CancelPending should be idempotent")
	}
}

func TestChannelTableCapacity(t *testing.T) {
	t.Parallel()
	registry, _, _ := newTestRegistry(t, 2)

	mustCreate(t, registry, 1, 4)
	mustCreate(t, registry, 1, 4)
	if _, _, _, err := registry.Create(1, 4); !errors.Is(err, kerror.ErrResourceExhausted) {
		t.Fatalf("got %v, want resource-exhausted", err)
	}
}

func TestClosedChannelFreesTableSlot(t *testing.T) {
	t.Parallel()
	registry, _, _ := newTestRegistry(t, 1)

	// At capacity one, create and close in a loop only works if close
	// actually releases the channel's table slot.
	for round := 0; round < 3; round++ {
		_, _, recvCap := mustCreate(t, registry, 1, 4)
		if err := registry.Close(1, recvCap); err != nil {
			t.Fatalf("Close round %d: %v", round, err)
		}
	}
	if stats := registry.Stats(); stats.ChannelsActive != 0 || stats.ChannelsClosed != 3 {
		t.Fatalf("unexpected stats after close loop: %+v", stats)
	}
}

func TestCloseEndpointsFromTeardown(t *testing.T) {
	t.Parallel()
	registry, table, waker := newTestRegistry(t, 8)
	_, _, recvCap := mustCreate(t, registry, 1, 4)
	mustTransfer(t, table, recvCap, 2)

	// Task 2 blocks on a channel whose send endpoint task 1 still
	// exclusively owns; when task 1 dies, teardown revokes that
	// resource and closes the channel it backs.
	if _, blocked, err := registry.Receive(2, recvCap, true); err != nil {
		t.Fatalf("Receive: %v", err)
	} else if !blocked {
		t.Fatal("receive should block")
	}

	revoked := table.ReleaseOwned(1)
	registry.CloseEndpoints(revoked)

	if len(waker.closes) != 1 || waker.closes[0] != 2 {
		t.Fatalf("blocked receiver not woken on teardown close: %v", waker.closes)
	}
	if stats := registry.Stats(); stats.ChannelsActive != 0 {
		t.Fatalf("channel still active after teardown: %+v", stats)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	registry, table, _ := newTestRegistry(t, 8)
	_, sendCap, recvCap := mustCreate(t, registry, 1, 4)
	mustTransfer(t, table, recvCap, 2)

	if _, err := registry.Send(1, sendCap, Message{}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, _, err := registry.Receive(2, recvCap, false); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	stats := registry.Stats()
	if stats.ChannelsCreated != 1 || stats.MessagesSent != 1 || stats.MessagesReceived != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
