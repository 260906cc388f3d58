// Package editor holds the editor document tree and the projection of its
// block nodes onto block entities.
package editor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Node is a node of the ProseMirror document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is a text mark (formatting).
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

var ErrInvalidDocument = errors.New("invalid document")

// ParseDocument decodes a ProseMirror JSON document.
func ParseDocument(data []byte) (Node, error) {
	var doc Node
	if err := json.Unmarshal(data, &doc); err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Type == "" {
		return Node{}, fmt.Errorf("%w: missing root type", ErrInvalidDocument)
	}
	return doc, nil
}

// StringAttr returns a string attribute, or "" when absent or not a string.
func (n Node) StringAttr(key string) string {
	value, _ := n.Attrs[key].(string)
	return value
}

// Descendants calls fn for every node below n in document order.
func (n Node) Descendants(fn func(Node)) {
	for _, child := range n.Content {
		fn(child)
		child.Descendants(fn)
	}
}
