package oracle

import (
	"fmt"
	"strings"

	"reefchain/core/events"
)

const (
	// MaxSourcesPerPair bounds the registry list for a single pair.
	MaxSourcesPerPair = 5

	// RoleOracleAdmin may mutate the registry and administrative settings.
	RoleOracleAdmin = "ROLE_ORACLE_ADMIN"
	// RoleOracleRecorder may append TWAP observations.
	RoleOracleRecorder = "ROLE_ORACLE_RECORDER"
)

// Registry owns the per-pair, priority-ordered list of source descriptors.
// Descriptors are soft deleted via their active flag; the list is never
// re-sorted after insertion.
type Registry struct {
	state   *State
	emitter events.Emitter
}

// NewRegistry creates a registry backed by the provided storage.
func NewRegistry(st Storage) *Registry {
	return &Registry{state: NewState(st), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Register inserts the descriptor into the pair's list, keeping the list
// non-decreasing by priority. Equal priorities keep insertion order. Only a
// caller holding ROLE_ORACLE_ADMIN may register sources.
func (r *Registry) Register(caller [20]byte, pair Pair, descriptor SourceDescriptor) error {
	if r == nil || r.state == nil {
		return fmt.Errorf("oracle: registry not initialised")
	}
	if !r.state.hasRole(RoleOracleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	sanitized := descriptor.Copy()
	if sanitized.SourceRef == "" {
		return fmt.Errorf("%w: source reference required", ErrInvalidOracle)
	}
	if !sanitized.Kind.Valid() {
		return fmt.Errorf("%w: kind %d", ErrInvalidOracle, sanitized.Kind)
	}
	stored, err := r.state.descriptors(pair)
	if err != nil {
		return err
	}
	if len(stored) >= MaxSourcesPerPair {
		return fmt.Errorf("%w: pair %s holds %d sources", ErrMaxOraclesReached, pair, len(stored))
	}
	idx := len(stored)
	for i, entry := range stored {
		if entry.Priority > sanitized.Priority {
			idx = i
			break
		}
	}
	updated := make([]SourceDescriptor, 0, len(stored)+1)
	updated = append(updated, stored[:idx]...)
	updated = append(updated, sanitized)
	updated = append(updated, stored[idx:]...)
	if err := r.state.putDescriptors(pair, updated); err != nil {
		return err
	}
	r.emitter.Emit(events.OracleSourceRegistered{
		Pair:      pair.String(),
		SourceRef: sanitized.SourceRef,
		Kind:      sanitized.Kind.String(),
		Priority:  sanitized.Priority,
	})
	return nil
}

// Deactivate clears the active flag on the first descriptor matching the
// source reference. A missing reference is deliberately not an error: the
// operation is an idempotent "ensure this source is off" switch, and calling
// it for an unknown reference leaves the registry untouched.
func (r *Registry) Deactivate(caller [20]byte, pair Pair, sourceRef string) error {
	if r == nil || r.state == nil {
		return fmt.Errorf("oracle: registry not initialised")
	}
	if !r.state.hasRole(RoleOracleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	needle := strings.TrimSpace(sourceRef)
	if needle == "" {
		return fmt.Errorf("%w: source reference required", ErrInvalidOracle)
	}
	stored, err := r.state.descriptors(pair)
	if err != nil {
		return err
	}
	for i := range stored {
		if stored[i].SourceRef != needle {
			continue
		}
		stored[i].Active = false
		if err := r.state.putDescriptors(pair, stored); err != nil {
			return err
		}
		r.emitter.Emit(events.OracleSourceDeactivated{Pair: pair.String(), SourceRef: needle})
		return nil
	}
	return nil
}

// Sources returns a copy of the stored descriptor list in priority order.
func (r *Registry) Sources(pair Pair) ([]SourceDescriptor, error) {
	if r == nil || r.state == nil {
		return nil, fmt.Errorf("oracle: registry not initialised")
	}
	return r.state.descriptors(pair)
}

// Primary returns the highest-priority descriptor for the pair.
func (r *Registry) Primary(pair Pair) (SourceDescriptor, error) {
	stored, err := r.Sources(pair)
	if err != nil {
		return SourceDescriptor{}, err
	}
	if len(stored) == 0 {
		return SourceDescriptor{}, fmt.Errorf("%w: pair %s", ErrNoPriceFeed, pair)
	}
	return stored[0], nil
}
