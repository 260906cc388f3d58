package editor

// NodeSpec describes how a node type maps onto entities.
type NodeSpec struct {
	// Block marks node types bound to a block entity.
	Block bool
	// Textblock marks blocks whose content is inline text.
	Textblock bool
	// ComponentID overrides the node type name as the block's component id.
	ComponentID string
}

// Schema maps node type names to their spec. Unknown types are structural.
type Schema map[string]NodeSpec

func (s Schema) Spec(nodeType string) NodeSpec {
	return s[nodeType]
}

const (
	ComponentParagraph = "https://blockprotocol.org/blocks/@hash/paragraph"
	ComponentHeader    = "https://blockprotocol.org/blocks/@hash/header"
	ComponentDivider   = "https://blockprotocol.org/blocks/@hash/divider"
	ComponentEmbed     = "https://blockprotocol.org/blocks/@hash/embed"
)

// DefaultSchema is the block set available on every page.
func DefaultSchema() Schema {
	return Schema{
		"paragraph": {Block: true, Textblock: true, ComponentID: ComponentParagraph},
		"header":    {Block: true, Textblock: true, ComponentID: ComponentHeader},
		"divider":   {Block: true, ComponentID: ComponentDivider},
		"embed":     {Block: true, ComponentID: ComponentEmbed},
	}
}
