package vault

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"hivehub.dev/fault"
)

// Frontmatter is an insertion-ordered key/value mapping. Serialization is
// deterministic: keys emit in insertion order, lists as block sequences,
// nested maps as single-indent blocks.
type Frontmatter struct {
	keys   []string
	values map[string]interface{}
}

// NewFrontmatter creates an empty mapping.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{values: map[string]interface{}{}}
}

// Set stores key=value, keeping first-set order. Returns the receiver for
// chaining.
func (f *Frontmatter) Set(key string, value interface{}) *Frontmatter {
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
	return f
}

// Get returns the value for key.
func (f *Frontmatter) Get(key string) (interface{}, bool) {
	value, ok := f.values[key]
	return value, ok
}

// GetString returns the value for key rendered as a string, or "".
func (f *Frontmatter) GetString(key string) string {
	value, ok := f.values[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

// Keys returns the keys in insertion order.
func (f *Frontmatter) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys.
func (f *Frontmatter) Len() int {
	return len(f.keys)
}

// Map returns an unordered copy of the mapping.
func (f *Frontmatter) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(f.values))
	for key, value := range f.values {
		out[key] = value
	}
	return out
}

// Render emits the full frontmatter block including the --- fences, or ""
// for an empty mapping.
func (f *Frontmatter) Render() (string, error) {
	if f == nil || len(f.keys) == 0 {
		return "", nil
	}

	node, err := mappingNode(f)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return "", fault.Unexpected(err, "failed to render frontmatter")
	}
	if err := enc.Close(); err != nil {
		return "", fault.Unexpected(err, "failed to render frontmatter")
	}

	return "---\n" + buf.String() + "---\n", nil
}

func mappingNode(f *Frontmatter) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range f.keys {
		valueNode, err := valueToNode(f.values[key])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		node.Content = append(node.Content, scalarNode(key), valueNode)
	}
	return node, nil
}

func scalarNode(value string) *yaml.Node {
	n := &yaml.Node{}
	n.SetString(value)
	return n
}

func valueToNode(value interface{}) (*yaml.Node, error) {
	switch v := value.(type) {
	case *Frontmatter:
		return mappingNode(v)
	case map[string]interface{}:
		// Plain nested maps carry no order; sort keys so output is stable.
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		ordered := NewFrontmatter()
		for _, key := range keys {
			ordered.Set(key, v[key])
		}
		return mappingNode(ordered)
	case []string:
		node := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range v {
			node.Content = append(node.Content, scalarNode(item))
		}
		return node, nil
	case []interface{}:
		node := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range v {
			itemNode, err := valueToNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, itemNode)
		}
		return node, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(value); err != nil {
			return nil, err
		}
		return node, nil
	}
}

// ParseFrontmatter splits content into its frontmatter mapping and body.
// Content without a leading fence yields a nil mapping and the full body.
func ParseFrontmatter(content string) (*Frontmatter, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, nil
	}

	rest := strings.TrimPrefix(content, "---\n")

	// The closing fence is a --- line of its own; a trailing --- without a
	// newline closes at end of content.
	end := strings.Index(rest, "\n---\n")
	tail := len("\n---\n")
	if end < 0 {
		if strings.HasSuffix(rest, "\n---") {
			end = len(rest) - len("\n---")
			tail = len("\n---")
		} else {
			// Unterminated fence: treat the whole content as body.
			return nil, content, nil
		}
	}

	block := rest[:end+1]
	body := rest[end+tail:]

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, "", fault.Invalid("malformed frontmatter: %v", err)
	}

	fm := NewFrontmatter()
	if len(doc.Content) > 0 {
		mapping := doc.Content[0]
		if mapping.Kind != yaml.MappingNode {
			return nil, "", fault.Invalid("frontmatter must be a mapping")
		}
		for i := 0; i+1 < len(mapping.Content); i += 2 {
			keyNode := mapping.Content[i]
			value, err := nodeToValue(mapping.Content[i+1])
			if err != nil {
				return nil, "", fault.Invalid("frontmatter key %q: %v", keyNode.Value, err)
			}
			fm.Set(keyNode.Value, value)
		}
	}

	return fm, body, nil
}

func nodeToValue(node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var value interface{}
		if err := node.Decode(&value); err != nil {
			return nil, err
		}
		return value, nil
	case yaml.SequenceNode:
		items := make([]interface{}, 0, len(node.Content))
		for _, item := range node.Content {
			value, err := nodeToValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil
	case yaml.MappingNode:
		out := map[string]interface{}{}
		if err := node.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	case yaml.AliasNode:
		return nodeToValue(node.Alias)
	default:
		return nil, fmt.Errorf("unsupported node kind %d", node.Kind)
	}
}
