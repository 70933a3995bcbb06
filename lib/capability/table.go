// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/nucleus-foundation/nucleus/lib/kerror"
	"github.com/nucleus-foundation/nucleus/lib/trace"
)

// ID is an opaque capability identifier. It is the token of
// authority: a task that can present an ID holds the capability.
type ID [16]byte

// IsZero reports whether the ID is the zero value (no capability).
func (id ID) IsZero() bool { return id == ID{} }

// String returns the hex form used in logs and trace notes.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// ResourceID names a revocable resource inside the table: a channel
// endpoint, a memory region, a device. Resource identifiers are
// kernel-internal handles, not authority; presenting one grants
// nothing.
type ResourceID uint64

// ResourceClass says what kind of resource a capability governs.
type ResourceClass uint8

const (
	ClassChannelEndpoint ResourceClass = iota + 1
	ClassMemoryRegion
	ClassDevice
	ClassCustom
)

// String returns the class name.
func (c ResourceClass) String() string {
	switch c {
	case ClassChannelEndpoint:
		return "channel-endpoint"
	case ClassMemoryRegion:
		return "memory-region"
	case ClassDevice:
		return "device"
	case ClassCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Record is the rights record behind a capability identifier. Copies
// returned by Validate are snapshots; the table owns the live state.
type Record struct {
	ID       ID
	Resource ResourceID
	Class    ResourceClass
	Rights   Rights
	Owner    uint64
	Epoch    uint64
}

// resourceState is the per-resource revocation state.
type resourceState struct {
	class ResourceClass
	epoch uint64

	// records indexes the capabilities minted at the current epoch.
	// A revoke clears the set, garbage-collecting every record the
	// epoch bump just invalidated.
	records map[ID]struct{}
}

// Table is the capability table. All methods are safe for concurrent
// use; every operation is a short critical section with no blocking
// inside.
type Table struct {
	mu           sync.Mutex
	hasher       *blake3.Hasher
	counter      uint64
	nextResource ResourceID
	caps         map[ID]*Record
	resources    map[ResourceID]*resourceState

	ring *trace.Ring

	validations uint64
	violations  uint64
	revocations uint64
}

// NewTable creates a capability table emitting security events to
// ring. The identifier key is drawn from the system entropy source;
// it never leaves the table.
func NewTable(ring *trace.Ring) (*Table, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("drawing capability key: %w", err)
	}
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		return nil, fmt.Errorf("initializing capability hasher: %w", err)
	}
	return &Table{
		hasher:    hasher,
		caps:      make(map[ID]*Record),
		resources: make(map[ResourceID]*resourceState),
		ring:      ring,
	}, nil
}

// nextID mints a fresh unforgeable identifier. Caller holds t.mu.
func (t *Table) nextID() ID {
	t.counter++
	var input [8]byte
	binary.BigEndian.PutUint64(input[:], t.counter)
	t.hasher.Reset()
	t.hasher.Write(input[:])
	var id ID
	copy(id[:], t.hasher.Sum(nil))
	return id
}

// NewResource registers a revocable resource and returns its handle.
// The resource starts at epoch zero with no capabilities.
func (t *Table) NewResource(class ResourceClass) ResourceID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextResource++
	id := t.nextResource
	t.resources[id] = &resourceState{
		class:   class,
		records: make(map[ID]struct{}),
	}
	return id
}

// Create mints a capability for an existing resource with the given
// rights, owned by owner. This is the root grant for a resource;
// delegation afterwards goes through Derive and message transfer.
func (t *Table) Create(resource ResourceID, rights Rights, owner uint64) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.resources[resource]
	if !ok {
		return ID{}, fmt.Errorf("%w: unknown resource %d", kerror.ErrSecurity, resource)
	}

	record := &Record{
		ID:       t.nextID(),
		Resource: resource,
		Class:    state.class,
		Rights:   rights,
		Owner:    owner,
		Epoch:    state.epoch,
	}
	t.caps[record.ID] = record
	state.records[record.ID] = struct{}{}

	t.ring.Emit(trace.CategorySecurity, trace.CodeCapCreate, owner, uint64(resource))
	return record.ID, nil
}

// Derive mints a capability with a subset of the parent's rights,
// owned by the parent's owner. Fails with a security error when the
// requested rights are not a subset (no amplification, ever) or
// when the parent is itself invalid.
func (t *Table) Derive(parent ID, subset Rights) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.lookupValid(parent)
	if err != nil {
		return ID{}, err
	}
	if !record.Rights.Contains(subset) {
		t.violations++
		t.ring.EmitNote(trace.CategorySecurity, trace.CodeSecurityViolation,
			record.Owner, uint64(record.Resource), "derive amplification refused")
		return ID{}, fmt.Errorf("%w: derived rights %s exceed parent %s",
			kerror.ErrSecurity, subset, record.Rights)
	}

	child := &Record{
		ID:       t.nextID(),
		Resource: record.Resource,
		Class:    record.Class,
		Rights:   subset,
		Owner:    record.Owner,
		Epoch:    record.Epoch,
	}
	t.caps[child.ID] = child
	t.resources[child.Resource].records[child.ID] = struct{}{}

	t.ring.Emit(trace.CategorySecurity, trace.CodeCapDerive, child.Owner, uint64(child.Resource))
	return child.ID, nil
}

// Validate checks that id names a live capability carrying every
// right in required, and returns a snapshot of its record. O(1):
// one map lookup, one epoch comparison, one bitmask containment.
func (t *Table) Validate(id ID, required Rights) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.validateLocked(id, required)
}

// ValidateHeldBy is Validate plus a holder check: the capability must
// currently be owned by holder. The syscall dispatcher uses this form
// so a task cannot present an identifier it has delegated away.
func (t *Table) ValidateHeldBy(id ID, required Rights, holder uint64) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.validateLocked(id, required)
	if err != nil {
		return Record{}, err
	}
	if record.Owner != holder {
		t.violations++
		t.ring.EmitNote(trace.CategorySecurity, trace.CodeSecurityViolation,
			holder, uint64(record.Resource), "capability not held by caller")
		return Record{}, fmt.Errorf("%w: capability not held by task %d", kerror.ErrSecurity, holder)
	}
	return record, nil
}

func (t *Table) validateLocked(id ID, required Rights) (Record, error) {
	t.validations++

	record, err := t.lookupValid(id)
	if err != nil {
		return Record{}, err
	}
	if !record.Rights.Contains(required) {
		t.violations++
		t.ring.EmitNote(trace.CategorySecurity, trace.CodeSecurityViolation,
			record.Owner, uint64(record.Resource), "insufficient rights")
		return Record{}, fmt.Errorf("%w: rights %s lack required %s",
			kerror.ErrSecurity, record.Rights, required)
	}
	return *record, nil
}

// lookupValid returns the live record for id, or a security error if
// the identifier is unknown or its epoch is stale. Caller holds t.mu.
func (t *Table) lookupValid(id ID) (*Record, error) {
	record, ok := t.caps[id]
	if !ok {
		t.violations++
		t.ring.Emit(trace.CategorySecurity, trace.CodeSecurityViolation, 0, 0)
		return nil, fmt.Errorf("%w: unknown capability", kerror.ErrSecurity)
	}
	state := t.resources[record.Resource]
	if state == nil || record.Epoch != state.epoch {
		t.violations++
		t.ring.Emit(trace.CategorySecurity, trace.CodeSecurityViolation,
			record.Owner, uint64(record.Resource))
		return nil, fmt.Errorf("%w: capability revoked", kerror.ErrSecurity)
	}
	return record, nil
}

// Revoke bumps the epoch of the capability's resource, invalidating
// every capability minted or derived for that resource, including
// already-delegated copies. Immediate: any Validate issued after
// Revoke returns, even on the same tick, observes the new epoch.
func (t *Table) Revoke(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.lookupValid(id)
	if err != nil {
		return err
	}
	t.revokeResourceLocked(record.Resource)
	return nil
}

// revokeResourceLocked bumps the resource epoch and garbage-collects
// the records it invalidates. Caller holds t.mu.
func (t *Table) revokeResourceLocked(resource ResourceID) {
	state := t.resources[resource]
	state.epoch++
	t.revocations++
	for id := range state.records {
		delete(t.caps, id)
	}
	clear(state.records)
	t.ring.Emit(trace.CategorySecurity, trace.CodeCapRevoke, 0, uint64(resource))
}

// Transfer moves a capability to a new owner. Delegation through a
// channel uses this at delivery time: the sender's set no longer
// contains the capability, the receiver's does, and the rights are
// whatever the record already carried; transfer never widens them.
func (t *Table) Transfer(id ID, newOwner uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.lookupValid(id)
	if err != nil {
		return err
	}
	record.Owner = newOwner
	return nil
}

// Discard deletes a single capability record without bumping the
// resource epoch. Used when a closed channel discards a message whose
// delegation is mid-flight: the record being destroyed is the only
// copy of that authority, so no epoch-wide invalidation is needed and
// other holders of the resource keep theirs.
func (t *Table) Discard(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.caps[id]
	if !ok {
		return
	}
	if state := t.resources[record.Resource]; state != nil {
		delete(state.records, id)
	}
	delete(t.caps, id)
}

// OwnedBy returns the identifiers currently owned by a task, in no
// particular order. This is the task's capability set; the table is
// its single source of truth.
func (t *Table) OwnedBy(owner uint64) []ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var owned []ID
	for id, record := range t.caps {
		if record.Owner == owner {
			owned = append(owned, id)
		}
	}
	return owned
}

// ReleaseOwned tears down a terminating task's capability set. Every
// resource for which the task is the only remaining valid holder is
// revoked (epoch bump); for shared resources only the task's own
// records are deleted, leaving other holders intact. Returns the
// resource handles that were fully revoked so the channel registry
// can close the endpoints they back.
func (t *Table) ReleaseOwned(owner uint64) []ResourceID {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Pass 1: partition the task's records by resource.
	ownedByResource := make(map[ResourceID][]ID)
	sharedResources := make(map[ResourceID]bool)
	for id, record := range t.caps {
		if record.Owner == owner {
			ownedByResource[record.Resource] = append(ownedByResource[record.Resource], id)
		} else {
			sharedResources[record.Resource] = true
		}
	}

	// Pass 2: revoke exclusive resources, drop records on shared ones.
	var revoked []ResourceID
	for resource, ids := range ownedByResource {
		if sharedResources[resource] {
			state := t.resources[resource]
			for _, id := range ids {
				delete(t.caps, id)
				delete(state.records, id)
			}
			continue
		}
		t.revokeResourceLocked(resource)
		revoked = append(revoked, resource)
	}
	return revoked
}

// Stats returns counters for the diagnostic status surface.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		CapabilitiesLive: len(t.caps),
		Resources:        len(t.resources),
		Validations:      t.validations,
		Violations:       t.violations,
		Revocations:      t.revocations,
	}
}

// Stats summarizes capability table state.
type Stats struct {
	CapabilitiesLive int    `cbor:"capabilities_live"`
	Resources        int    `cbor:"resources"`
	Validations      uint64 `cbor:"validations"`
	Violations       uint64 `cbor:"violations"`
	Revocations      uint64 `cbor:"revocations"`
}
