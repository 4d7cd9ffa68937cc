//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages plugin instances keyed by id. Plugins are registered at
// application startup and referenced by pluginId in routine definitions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	plugin    Plugin
	validator *schemaValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register adds a plugin. Port schemas are compiled eagerly so malformed
// schemas surface at startup rather than at dispatch time.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin cannot be nil")
	}
	id := p.ID()
	if id == "" {
		return fmt.Errorf("plugin ID cannot be empty")
	}

	validator, err := newSchemaValidator(id, p.Schemas())
	if err != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("plugin %s is already registered", id)
	}
	r.entries[id] = &entry{plugin: p, validator: validator}
	return nil
}

// MustRegister registers a plugin or panics. Intended for package init of
// built-in plugin sets.
func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Get returns the plugin with the given id.
func (r *Registry) Get(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not found in registry", id)
	}
	return e.plugin, nil
}

// Has reports whether a plugin with the given id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// List returns the registered plugin ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateInputs checks a gathered input record against the plugin's
// declared input ports.
func (r *Registry) ValidateInputs(id string, inputs map[string]any) error {
	v, err := r.validator(id)
	if err != nil {
		return err
	}
	return v.validateInputs(inputs)
}

// ValidateOutputs checks a returned output record against the plugin's
// declared output ports. Reserved keys are exempt.
func (r *Registry) ValidateOutputs(id string, outputs map[string]any) error {
	v, err := r.validator(id)
	if err != nil {
		return err
	}
	return v.validateOutputs(outputs)
}

func (r *Registry) validator(id string) (*schemaValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not found in registry", id)
	}
	return e.validator, nil
}
