// Package systemtypes holds the entity type ids of the built-in system types.
//
// A Registry is filled exactly once, when the store has ensured the system
// types exist, and is read-only afterwards. Reads before initialisation fail.
package systemtypes

import (
	"errors"
	"fmt"
	"sync"
)

// Name identifies a built-in entity type.
type Name string

const (
	Block Name = "Block"
	Page  Name = "Page"
	Text  Name = "Text"
)

// Names lists every system type the registry must know about.
var Names = []Name{Block, Page, Text}

var (
	ErrNotInitialized     = errors.New("system types not initialized")
	ErrAlreadyInitialized = errors.New("system types already initialized")
	ErrUnknownSystemType  = errors.New("unknown system type")
)

type Registry struct {
	mu    sync.RWMutex
	ready bool
	ids   map[Name]string
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Init records the entity type id of every system type. It may only be
// called once and requires an id for each entry of Names.
func (r *Registry) Init(ids map[Name]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return ErrAlreadyInitialized
	}
	copied := make(map[Name]string, len(ids))
	for _, name := range Names {
		id, ok := ids[name]
		if !ok || id == "" {
			return fmt.Errorf("init system types: missing id for %s", name)
		}
		copied[name] = id
	}
	r.ids = copied
	r.ready = true
	return nil
}

func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// TypeID returns the entity type id registered for name.
func (r *Registry) TypeID(name Name) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return "", ErrNotInitialized
	}
	id, ok := r.ids[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSystemType, name)
	}
	return id, nil
}
