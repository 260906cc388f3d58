// Package entity models persisted entities as a tagged variant.
//
// Every entity carries exactly one payload matching its Kind. Consumers
// switch on Kind and reject anything they do not recognise with a
// *KindError instead of probing property bags.
package entity

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type Kind string

const (
	KindBlock Kind = "Block"
	KindText  Kind = "Text"
	KindOther Kind = "Other"
)

func (k Kind) Known() bool {
	switch k {
	case KindBlock, KindText, KindOther:
		return true
	default:
		return false
	}
}

var (
	ErrUnknownKind = errors.New("unknown entity kind")
	ErrWrongKind   = errors.New("unexpected entity kind")
	ErrNoPayload   = errors.New("entity payload does not match kind")
)

// KindError reports an entity whose variant is not the one a caller needs.
type KindError struct {
	EntityID string
	Want     Kind
	Got      Kind
}

func (e *KindError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("entity %s: unknown kind %q", e.EntityID, e.Got)
	}
	return fmt.Sprintf("entity %s: kind %q, want %q", e.EntityID, e.Got, e.Want)
}

func (e *KindError) Unwrap() error {
	if !e.Got.Known() {
		return ErrUnknownKind
	}
	return ErrWrongKind
}

// Ref addresses an entity by account and id.
type Ref struct {
	AccountID string `json:"accountId"`
	EntityID  string `json:"entityId"`
}

// TextRun is one run of text with its formatting flags.
type TextRun struct {
	Text      string `json:"text"`
	Bold      bool   `json:"bold,omitempty"`
	Italics   bool   `json:"italics,omitempty"`
	Underline bool   `json:"underline,omitempty"`
}

type TextProperties struct {
	Texts []TextRun `json:"texts"`
}

// Equal compares run sequences by value. A nil and an empty sequence are equal.
func (p TextProperties) Equal(other TextProperties) bool {
	return slices.Equal(p.Texts, other.Texts)
}

// PlainText joins the run texts.
func (p TextProperties) PlainText() string {
	size := 0
	for _, run := range p.Texts {
		size += len(run.Text)
	}
	out := make([]byte, 0, size)
	for _, run := range p.Texts {
		out = append(out, run.Text...)
	}
	return string(out)
}

// BlockProperties binds a block to its renderer and its single child entity.
type BlockProperties struct {
	ComponentID string `json:"componentId"`
	Entity      Ref    `json:"entity"`
}

// OtherProperties is the payload of any entity that is neither a block nor
// text. Text optionally links a text entity holding its editable content.
type OtherProperties struct {
	Values map[string]any `json:"values,omitempty"`
	Text   *Ref           `json:"text,omitempty"`
}

// Properties is the tagged payload of an entity.
type Properties struct {
	Kind  Kind             `json:"kind"`
	Block *BlockProperties `json:"block,omitempty"`
	Text  *TextProperties  `json:"text,omitempty"`
	Other *OtherProperties `json:"other,omitempty"`
}

func BlockPayload(p BlockProperties) Properties {
	return Properties{Kind: KindBlock, Block: &p}
}

func TextPayload(p TextProperties) Properties {
	return Properties{Kind: KindText, Text: &p}
}

func OtherPayload(p OtherProperties) Properties {
	return Properties{Kind: KindOther, Other: &p}
}

// Validate checks that exactly the payload named by Kind is present.
func (p Properties) Validate() error {
	switch p.Kind {
	case KindBlock:
		if p.Block == nil || p.Text != nil || p.Other != nil {
			return fmt.Errorf("%w: %s", ErrNoPayload, p.Kind)
		}
	case KindText:
		if p.Text == nil || p.Block != nil || p.Other != nil {
			return fmt.Errorf("%w: %s", ErrNoPayload, p.Kind)
		}
	case KindOther:
		if p.Other == nil || p.Block != nil || p.Text != nil {
			return fmt.Errorf("%w: %s", ErrNoPayload, p.Kind)
		}
	default:
		return &KindError{Got: p.Kind}
	}
	return nil
}

// Entity is one version of a persisted entity.
type Entity struct {
	AccountID       string    `json:"accountId"`
	EntityID        string    `json:"entityId"`
	EntityVersionID string    `json:"entityVersionId"`
	EntityTypeID    string    `json:"entityTypeId,omitempty"`
	Versioned       bool      `json:"versioned"`
	CreatedAt       time.Time `json:"createdAt"`
	Properties
}

func (e Entity) Ref() Ref {
	return Ref{AccountID: e.AccountID, EntityID: e.EntityID}
}

func (e Entity) AsBlock() (BlockProperties, error) {
	if e.Kind != KindBlock {
		return BlockProperties{}, &KindError{EntityID: e.EntityID, Want: KindBlock, Got: e.Kind}
	}
	if e.Block == nil {
		return BlockProperties{}, fmt.Errorf("entity %s: %w", e.EntityID, ErrNoPayload)
	}
	return *e.Block, nil
}

func (e Entity) AsText() (TextProperties, error) {
	if e.Kind != KindText {
		return TextProperties{}, &KindError{EntityID: e.EntityID, Want: KindText, Got: e.Kind}
	}
	if e.Text == nil {
		return TextProperties{}, fmt.Errorf("entity %s: %w", e.EntityID, ErrNoPayload)
	}
	return *e.Text, nil
}

// Block is one entry of a page's ordered block list.
type Block struct {
	AccountID   string `json:"accountId"`
	EntityID    string `json:"entityId"`
	ComponentID string `json:"componentId"`
	Child       Ref    `json:"entity"`
}

// BlockFromEntity projects a block entity onto a page list entry.
func BlockFromEntity(e Entity) (Block, error) {
	props, err := e.AsBlock()
	if err != nil {
		return Block{}, err
	}
	return Block{
		AccountID:   e.AccountID,
		EntityID:    e.EntityID,
		ComponentID: props.ComponentID,
		Child:       props.Entity,
	}, nil
}

// Page is a page entity together with its ordered block list.
type Page struct {
	AccountID string    `json:"accountId"`
	EntityID  string    `json:"entityId"`
	Title     string    `json:"title"`
	Contents  []Block   `json:"contents"`
	UpdatedAt time.Time `json:"updatedAt"`
}
