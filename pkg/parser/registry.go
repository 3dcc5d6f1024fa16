package parser

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/securewatch/ingest/internal/logger"
)

// Registration wraps a registered parser with its mutable enablement flag.
// The descriptor snapshot is immutable after registration.
type Registration struct {
	parser  Parser
	desc    Descriptor
	enabled atomic.Bool
}

// Parser returns the registered parser.
func (r *Registration) Parser() Parser { return r.parser }

// Descriptor returns the descriptor snapshot taken at registration.
func (r *Registration) Descriptor() Descriptor { return r.desc }

// Enabled reports whether the parser participates in dispatch.
func (r *Registration) Enabled() bool { return r.enabled.Load() }

// Registry indexes parsers by id, log source and category. Lookups by hint
// return candidates ordered by descending priority.
type Registry struct {
	mu         sync.RWMutex
	parsers    map[string]*Registration
	bySource   map[string][]*Registration
	byCategory map[Category][]*Registration
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers:    make(map[string]*Registration),
		bySource:   make(map[string][]*Registration),
		byCategory: make(map[Category][]*Registration),
	}
}

// Register validates and indexes a parser. A duplicate id replaces the
// previous registration with a warning. Validation errors reject the
// parser; warnings are logged and registration proceeds.
func (r *Registry) Register(p Parser) error {
	result := ValidateParser(p)
	if !result.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidParser, result.Errors)
	}

	desc := p.Descriptor()
	for _, w := range result.Warnings {
		logger.Warn("parser registration warning", "parser_id", desc.ID, "warning", w)
	}

	reg := &Registration{parser: p, desc: desc}
	reg.enabled.Store(desc.Enabled)

	r.mu.Lock()
	if _, exists := r.parsers[desc.ID]; exists {
		logger.Warn("replacing registered parser", "parser_id", desc.ID)
		r.removeLocked(desc.ID)
	}
	r.parsers[desc.ID] = reg
	r.bySource[desc.LogSource] = insertByPriority(r.bySource[desc.LogSource], reg)
	r.byCategory[desc.Category] = insertByPriority(r.byCategory[desc.Category], reg)
	r.mu.Unlock()

	logger.Info("parser registered",
		"parser_id", desc.ID,
		"name", desc.Name,
		"log_source", desc.LogSource,
		"category", string(desc.Category),
		"priority", desc.Priority,
		"enabled", desc.Enabled)
	return nil
}

// Unregister removes a parser and all its index entries.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.parsers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrParserNotFound, id)
	}
	r.removeLocked(id)
	logger.Info("parser unregistered", "parser_id", id)
	return nil
}

func (r *Registry) removeLocked(id string) {
	reg, ok := r.parsers[id]
	if !ok {
		return
	}
	delete(r.parsers, id)
	r.bySource[reg.desc.LogSource] = removeRegistration(r.bySource[reg.desc.LogSource], id)
	if len(r.bySource[reg.desc.LogSource]) == 0 {
		delete(r.bySource, reg.desc.LogSource)
	}
	r.byCategory[reg.desc.Category] = removeRegistration(r.byCategory[reg.desc.Category], id)
	if len(r.byCategory[reg.desc.Category]) == 0 {
		delete(r.byCategory, reg.desc.Category)
	}
}

// SetEnabled toggles a parser in or out of dispatch without unregistering.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.RLock()
	reg, ok := r.parsers[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrParserNotFound, id)
	}
	reg.enabled.Store(enabled)
	logger.Info("parser enablement changed", "parser_id", id, "enabled", enabled)
	return nil
}

// Get returns the registration for an id.
func (r *Registry) Get(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.parsers[id]
	return reg, ok
}

// CandidatesFor returns candidate registrations for a record, ordered by
// descending priority. Source-hint matches come first, then category-hint
// matches not already included. With no hints, or when neither hint matches
// anything, every registered parser is a candidate.
func (r *Registry) CandidatesFor(sourceHint string, categoryHint string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Registration
	seen := make(map[string]struct{})

	if sourceHint != "" {
		for _, reg := range r.bySource[sourceHint] {
			out = append(out, reg)
			seen[reg.desc.ID] = struct{}{}
		}
	}
	if categoryHint != "" {
		for _, reg := range r.byCategory[Category(categoryHint)] {
			if _, dup := seen[reg.desc.ID]; dup {
				continue
			}
			out = append(out, reg)
			seen[reg.desc.ID] = struct{}{}
		}
	}
	if len(out) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].desc.Priority > out[j].desc.Priority
		})
		return out
	}

	out = make([]*Registration, 0, len(r.parsers))
	for _, reg := range r.parsers {
		out = append(out, reg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].desc.Priority != out[j].desc.Priority {
			return out[i].desc.Priority > out[j].desc.Priority
		}
		return out[i].desc.ID < out[j].desc.ID
	})
	return out
}

// List returns descriptors of all registered parsers, sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.parsers))
	for _, reg := range r.parsers {
		d := reg.desc
		d.Enabled = reg.enabled.Load()
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered parsers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parsers)
}

// insertByPriority keeps index slices ordered by descending priority, with
// registration order as the tie-break.
func insertByPriority(regs []*Registration, reg *Registration) []*Registration {
	i := sort.Search(len(regs), func(i int) bool {
		return regs[i].desc.Priority < reg.desc.Priority
	})
	regs = append(regs, nil)
	copy(regs[i+1:], regs[i:])
	regs[i] = reg
	return regs
}

func removeRegistration(regs []*Registration, id string) []*Registration {
	for i, reg := range regs {
		if reg.desc.ID == id {
			return append(regs[:i], regs[i+1:]...)
		}
	}
	return regs
}
