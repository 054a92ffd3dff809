package registry

import (
	"bytes"
	"errors"
	"testing"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/state"
	"github.com/8001800/charta/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestRegistry(t *testing.T, owner [20]byte) (*Registry, *capturingEmitter) {
	t.Helper()
	st := state.NewState(storage.NewMemDB())
	reg := New(st)
	if err := reg.Bootstrap(owner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	emitter := &capturingEmitter{}
	reg.SetEmitter(emitter)
	return reg, emitter
}

func TestBootstrap(t *testing.T) {
	st := state.NewState(storage.NewMemDB())
	reg := New(st)
	owner := newTestAddress(0x01)

	if _, err := reg.Owner(); !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("expected ErrNotBootstrapped, got %v", err)
	}
	if err := reg.Bootstrap([20]byte{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero owner, got %v", err)
	}
	if err := reg.Bootstrap(owner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	got, err := reg.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if got != owner {
		t.Fatalf("owner = %x, want %x", got, owner)
	}
	if err := reg.Bootstrap(newTestAddress(0x02)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument on second bootstrap, got %v", err)
	}
}

func TestAddAuthorizedInsertAgent(t *testing.T) {
	owner := newTestAddress(0x01)
	agent := newTestAddress(0x02)
	reg, emitter := newTestRegistry(t, owner)

	ok, err := reg.IsAuthorizedInsertAgent(agent)
	if err != nil || ok {
		t.Fatalf("pre-grant membership = %v, %v", ok, err)
	}
	if err := reg.AddAuthorizedInsertAgent(owner, agent); err != nil {
		t.Fatalf("add agent: %v", err)
	}
	ok, err = reg.IsAuthorizedInsertAgent(agent)
	if err != nil || !ok {
		t.Fatalf("post-grant membership = %v, %v", ok, err)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != EventTypeAgentAuthorized {
		t.Fatalf("unexpected events: %+v", emitter.events)
	}

	// Re-adding is a no-op and emits nothing.
	if err := reg.AddAuthorizedInsertAgent(owner, agent); err != nil {
		t.Fatalf("re-add agent: %v", err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("re-add emitted %d events", len(emitter.events)-1)
	}
	agents, err := reg.GetAuthorizedInsertAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 || agents[0] != agent {
		t.Fatalf("unexpected agent list: %x", agents)
	}
}

func TestAddAgentRequiresOwner(t *testing.T) {
	owner := newTestAddress(0x01)
	intruder := newTestAddress(0x05)
	reg, _ := newTestRegistry(t, owner)

	if err := reg.AddAuthorizedInsertAgent(intruder, newTestAddress(0x02)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := reg.AddAuthorizedEditAgent(intruder, newTestAddress(0x02)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := reg.AddAuthorizedInsertAgent(owner, [20]byte{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero agent, got %v", err)
	}
}

func TestRevokeAgent(t *testing.T) {
	owner := newTestAddress(0x01)
	first := newTestAddress(0x02)
	second := newTestAddress(0x03)
	reg, emitter := newTestRegistry(t, owner)

	for _, agent := range [][20]byte{first, second} {
		if err := reg.AddAuthorizedEditAgent(owner, agent); err != nil {
			t.Fatalf("add agent: %v", err)
		}
	}
	if err := reg.RevokeEditAgentAuthorization(owner, first); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err := reg.IsAuthorizedEditAgent(first)
	if err != nil || ok {
		t.Fatalf("revoked agent still member = %v, %v", ok, err)
	}
	agents, err := reg.GetAuthorizedEditAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 || agents[0] != second {
		t.Fatalf("unexpected agent list after revoke: %x", agents)
	}
	last := emitter.events[len(emitter.events)-1]
	if last.EventType() != EventTypeAgentRevoked {
		t.Fatalf("unexpected last event: %s", last.EventType())
	}

	// Revoking a non-member is a no-op and emits nothing.
	before := len(emitter.events)
	if err := reg.RevokeEditAgentAuthorization(owner, newTestAddress(0x09)); err != nil {
		t.Fatalf("revoke non-member: %v", err)
	}
	if len(emitter.events) != before {
		t.Fatalf("no-op revoke emitted events")
	}
	if err := reg.RevokeEditAgentAuthorization(first, second); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRolesAreIndependent(t *testing.T) {
	owner := newTestAddress(0x01)
	agent := newTestAddress(0x02)
	reg, _ := newTestRegistry(t, owner)

	if err := reg.AddAuthorizedInsertAgent(owner, agent); err != nil {
		t.Fatalf("add insert agent: %v", err)
	}
	ok, err := reg.IsAuthorizedEditAgent(agent)
	if err != nil || ok {
		t.Fatalf("insert grant leaked into edit set: %v, %v", ok, err)
	}
}

func TestTransferOwnership(t *testing.T) {
	owner := newTestAddress(0x01)
	next := newTestAddress(0x07)
	reg, emitter := newTestRegistry(t, owner)

	if err := reg.TransferOwnership(next, next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := reg.TransferOwnership(owner, [20]byte{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero owner, got %v", err)
	}
	if err := reg.TransferOwnership(owner, next); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got, err := reg.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if got != next {
		t.Fatalf("owner = %x, want %x", got, next)
	}
	if emitter.events[len(emitter.events)-1].EventType() != EventTypeOwnershipTransferred {
		t.Fatalf("missing ownership event")
	}

	// The previous owner loses control immediately.
	if err := reg.AddAuthorizedInsertAgent(owner, newTestAddress(0x02)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for stale owner, got %v", err)
	}
	if err := reg.AddAuthorizedInsertAgent(next, newTestAddress(0x02)); err != nil {
		t.Fatalf("new owner grant: %v", err)
	}
}
