package save

import (
	"errors"
	"fmt"

	"hash/api/internal/entity"
	"hash/api/internal/systemtypes"
)

var (
	// ErrInvariantViolation signals a defect in the differ itself. It is
	// never retried.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrInvalidAction      = errors.New("invalid page action")
	ErrSaveFailed         = errors.New("save failed")
)

type RemoveBlock struct {
	Position int `json:"position"`
}

// MoveBlock removes the block at CurrentPosition and reinserts it at
// NewPosition of the shortened list.
type MoveBlock struct {
	CurrentPosition int `json:"currentPosition"`
	NewPosition     int `json:"newPosition"`
}

type InsertNewBlock struct {
	Position         int                    `json:"position"`
	ComponentID      string                 `json:"componentId"`
	AccountID        string                 `json:"accountId"`
	EntityProperties *entity.TextProperties `json:"entityProperties,omitempty"`
	SystemTypeName   systemtypes.Name       `json:"systemTypeName"`
}

// UpdateEntity replaces the properties of one entity. Properties is either
// a block payload (component switch) or a text payload.
type UpdateEntity struct {
	EntityID   string            `json:"entityId"`
	AccountID  string            `json:"accountId"`
	Properties entity.Properties `json:"properties"`
}

// Action is one page mutation. Exactly one field is set.
type Action struct {
	RemoveBlock    *RemoveBlock    `json:"removeBlock,omitempty"`
	MoveBlock      *MoveBlock      `json:"moveBlock,omitempty"`
	InsertNewBlock *InsertNewBlock `json:"insertNewBlock,omitempty"`
	UpdateEntity   *UpdateEntity   `json:"updateEntity,omitempty"`
}

// Phase is the position of an action kind in a batch.
type Phase int

const (
	PhaseRemove Phase = iota
	PhaseMove
	PhaseInsert
	PhaseUpdate
)

func (p Phase) String() string {
	switch p {
	case PhaseRemove:
		return "remove"
	case PhaseMove:
		return "move"
	case PhaseInsert:
		return "insert"
	case PhaseUpdate:
		return "update"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Phase returns the phase of a, or an error unless exactly one field is set.
func (a Action) Phase() (Phase, error) {
	set := 0
	var phase Phase
	if a.RemoveBlock != nil {
		set++
		phase = PhaseRemove
	}
	if a.MoveBlock != nil {
		set++
		phase = PhaseMove
	}
	if a.InsertNewBlock != nil {
		set++
		phase = PhaseInsert
	}
	if a.UpdateEntity != nil {
		set++
		phase = PhaseUpdate
	}
	if set != 1 {
		return 0, fmt.Errorf("%w: %d variants set", ErrInvalidAction, set)
	}
	return phase, nil
}

// ValidateBatch checks every action and the fixed remove, move, insert,
// update ordering of the batch.
func ValidateBatch(actions []Action) error {
	last := PhaseRemove
	for i, action := range actions {
		phase, err := action.Phase()
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		if phase < last {
			return fmt.Errorf("%w: action %d (%s) after %s", ErrInvalidAction, i, phase, last)
		}
		last = phase
		if action.UpdateEntity != nil {
			if err := action.UpdateEntity.Properties.Validate(); err != nil {
				return fmt.Errorf("%w: action %d: %v", ErrInvalidAction, i, err)
			}
		}
	}
	return nil
}
