package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrMissing = errors.New("entity missing from entity store")

// Store is a read-only snapshot of the last persisted entities, keyed by
// entity id. It is rebuilt by the caller after every successful save.
type Store struct {
	entities map[string]Entity
}

func NewStore(entities ...Entity) Store {
	m := make(map[string]Entity, len(entities))
	for _, e := range entities {
		m[e.EntityID] = e
	}
	return Store{entities: m}
}

func (s Store) Lookup(entityID string) (Entity, bool) {
	e, ok := s.entities[entityID]
	return e, ok
}

func (s Store) Len() int {
	return len(s.entities)
}

// Entities returns the snapshot ordered by entity id.
func (s Store) Entities() []Entity {
	items := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		items = append(items, e)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EntityID < items[j].EntityID })
	return items
}

func (s Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Entities())
}

func (s *Store) UnmarshalJSON(data []byte) error {
	var items []Entity
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewStore(items...)
	return nil
}

// TextEntityFromBlock returns the text entity holding a block's content.
// The child is either a text entity itself or an entity linking one. The
// boolean is false when the block has no text content.
func TextEntityFromBlock(block Entity, store Store) (Entity, bool, error) {
	props, err := block.AsBlock()
	if err != nil {
		return Entity{}, false, err
	}
	child, ok := store.Lookup(props.Entity.EntityID)
	if !ok {
		return Entity{}, false, fmt.Errorf("child %s of block %s: %w", props.Entity.EntityID, block.EntityID, ErrMissing)
	}
	switch child.Kind {
	case KindText:
		return child, true, nil
	case KindOther:
		if child.Other == nil || child.Other.Text == nil {
			return Entity{}, false, nil
		}
		text, ok := store.Lookup(child.Other.Text.EntityID)
		if !ok {
			return Entity{}, false, fmt.Errorf("text %s of entity %s: %w", child.Other.Text.EntityID, child.EntityID, ErrMissing)
		}
		if text.Kind != KindText {
			return Entity{}, false, &KindError{EntityID: text.EntityID, Want: KindText, Got: text.Kind}
		}
		return text, true, nil
	case KindBlock:
		return Entity{}, false, nil
	default:
		return Entity{}, false, &KindError{EntityID: child.EntityID, Got: child.Kind}
	}
}
