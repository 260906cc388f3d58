package editor

import "hash/api/internal/entity"

// EntityNode is a block node of the current document, optionally bound to
// a persisted block entity.
type EntityNode struct {
	EntityID string
	Type     string
	Spec     NodeSpec
	Node     Node
}

func (n EntityNode) Bound() bool {
	return n.EntityID != ""
}

func (n EntityNode) ComponentID() string {
	if n.Spec.ComponentID != "" {
		return n.Spec.ComponentID
	}
	return n.Type
}

// Texts returns the text runs of a text block in document order.
func (n EntityNode) Texts() []entity.TextRun {
	texts := []entity.TextRun{}
	n.Node.Descendants(func(child Node) {
		if child.Type != "text" {
			return
		}
		run := entity.TextRun{Text: child.Text}
		for _, mark := range child.Marks {
			switch mark.Type {
			case "strong":
				run.Bold = true
			case "em":
				run.Italics = true
			case "underlined":
				run.Underline = true
			}
		}
		texts = append(texts, run)
	})
	return texts
}

// Properties derives the content entity properties of the node. Only text
// blocks carry properties.
func (n EntityNode) Properties() *entity.TextProperties {
	if !n.Spec.Textblock {
		return nil
	}
	return &entity.TextProperties{Texts: n.Texts()}
}

// FindEntityNodes lists the block nodes of doc in document order. Block
// nodes are not descended into; every other node is treated as structure.
func FindEntityNodes(doc Node, schema Schema) []EntityNode {
	var nodes []EntityNode
	var walk func(Node)
	walk = func(parent Node) {
		for _, child := range parent.Content {
			spec := schema.Spec(child.Type)
			if spec.Block {
				nodes = append(nodes, EntityNode{
					EntityID: child.StringAttr("entityId"),
					Type:     child.Type,
					Spec:     spec,
					Node:     child,
				})
				continue
			}
			walk(child)
		}
	}
	walk(doc)
	return nodes
}
