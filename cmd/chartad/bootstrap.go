package main

import (
	"errors"
	"fmt"

	"github.com/8001800/charta/native/registry"
)

// bootstrapCoordinator prepares the agent registry for settlement: the
// configured owner claims the registry if it is unowned, and the coordinator
// receives a standing insert grant. Starting against a registry a different
// address owns fails here rather than on the first fill.
func bootstrapCoordinator(agents *registry.Registry, owner, operator [20]byte) error {
	if err := agents.Bootstrap(owner); err != nil && !errors.Is(err, registry.ErrInvalidArgument) {
		return fmt.Errorf("bootstrap registry: %w", err)
	}
	// Every fill inserts a ledger entry, so a missing grant makes the daemon
	// useless. Adding an existing member is a no-op.
	if err := agents.AddAuthorizedInsertAgent(owner, operator); err != nil {
		return fmt.Errorf("authorize coordinator: %w", err)
	}
	return nil
}
