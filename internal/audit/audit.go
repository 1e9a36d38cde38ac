// Package audit stamps actor identity and timestamps into write payloads.
// All functions are pure: they return new maps and never modify their input.
package audit

import (
	"maps"
	"time"

	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/scopes"
)

// Actor returns the value stored in audit columns for exec: its actor id, or nil when unknown.
func Actor(exec contexts.Execution) any {
	if !exec.HasActor() {
		return nil
	}

	return exec.ActorID
}

// StampCreate returns row with creator, updater and both timestamps set.
func StampCreate(exec contexts.Execution, d scopes.Descriptor, row map[string]any, now time.Time) map[string]any {
	out := clone(row, 4)
	actor := Actor(exec)

	set(out, d.CreatorColumn, actor)
	set(out, d.UpdaterColumn, actor)
	setIfAbsent(out, d.CreatedAtColumn, now)
	set(out, d.UpdatedAtColumn, now)

	return out
}

// StampUpdate returns set with updater and updated-at applied.
func StampUpdate(exec contexts.Execution, d scopes.Descriptor, payload map[string]any, now time.Time) map[string]any {
	out := clone(payload, 2)

	set(out, d.UpdaterColumn, Actor(exec))
	set(out, d.UpdatedAtColumn, now)

	return out
}

// StampDelete returns the update payload that soft-deletes a row.
func StampDelete(exec contexts.Execution, d scopes.Descriptor, now time.Time) map[string]any {
	out := StampUpdate(exec, d, nil, now)
	set(out, d.DeletedAtColumn, now)

	return out
}

// StampRestore returns the update payload that brings a soft-deleted row back.
func StampRestore(exec contexts.Execution, d scopes.Descriptor, now time.Time) map[string]any {
	out := StampUpdate(exec, d, nil, now)
	if d.DeletedAtColumn != "" {
		out[d.DeletedAtColumn] = nil
	}

	return out
}

func clone(m map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(m)+extra)
	maps.Copy(out, m)

	return out
}

func set(m map[string]any, column string, v any) {
	if column == "" {
		return
	}

	m[column] = v
}

func setIfAbsent(m map[string]any, column string, v any) {
	if column == "" {
		return
	}

	if existing, ok := m[column]; ok && existing != nil {
		return
	}

	m[column] = v
}
