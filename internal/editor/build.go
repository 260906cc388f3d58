package editor

import (
	"fmt"

	"hash/api/internal/entity"
)

func Doc(children ...Node) Node {
	return Node{Type: "doc", Content: children}
}

// BlockNode builds a block node of nodeType bound to entityID ("" for a new block).
func BlockNode(nodeType, entityID string, children ...Node) Node {
	node := Node{Type: nodeType, Content: children}
	if entityID != "" {
		node.Attrs = map[string]any{"entityId": entityID}
	}
	return node
}

// TextNode builds an inline text node carrying the given mark types.
func TextNode(text string, marks ...string) Node {
	node := Node{Type: "text", Text: text}
	for _, mark := range marks {
		node.Marks = append(node.Marks, Mark{Type: mark})
	}
	return node
}

// TextNodes converts stored text runs back into inline text nodes.
func TextNodes(runs []entity.TextRun) []Node {
	nodes := make([]Node, 0, len(runs))
	for _, run := range runs {
		var marks []string
		if run.Bold {
			marks = append(marks, "strong")
		}
		if run.Italics {
			marks = append(marks, "em")
		}
		if run.Underline {
			marks = append(marks, "underlined")
		}
		nodes = append(nodes, TextNode(run.Text, marks...))
	}
	return nodes
}

// nodeTypeFor finds the node type rendering componentID.
func (s Schema) nodeTypeFor(componentID string) (string, NodeSpec) {
	for name, spec := range s {
		if spec.Block && (spec.ComponentID == componentID || (spec.ComponentID == "" && name == componentID)) {
			return name, spec
		}
	}
	return componentID, NodeSpec{Block: true}
}

// FromPage renders a persisted block list as an editor document.
func FromPage(blocks []entity.Block, store entity.Store, schema Schema) (Node, error) {
	doc := Doc()
	for _, block := range blocks {
		nodeType, spec := schema.nodeTypeFor(block.ComponentID)
		node := BlockNode(nodeType, block.EntityID)
		if spec.Textblock {
			saved, ok := store.Lookup(block.EntityID)
			if !ok {
				return Node{}, fmt.Errorf("block %s: %w", block.EntityID, entity.ErrMissing)
			}
			text, ok, err := entity.TextEntityFromBlock(saved, store)
			if err != nil {
				return Node{}, fmt.Errorf("block %s: %w", block.EntityID, err)
			}
			if ok {
				props, err := text.AsText()
				if err != nil {
					return Node{}, err
				}
				node.Content = TextNodes(props.Texts)
			}
		}
		doc.Content = append(doc.Content, node)
	}
	return doc, nil
}
