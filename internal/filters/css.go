package filters

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// cssFilter keeps the elements matching a selector and renders them back to HTML.
//
// Supported selectors are a subset of CSS:
//   - tag, .class, #id and their combinations (div.content, div#main)
//   - attribute presence and equality (div[data-id], a[rel=next])
//   - descendant combinator (article p)
//   - selector groups (h1, h2)
type cssFilter struct{}

func (f *cssFilter) Name() string        { return "css" }
func (f *cssFilter) Description() string { return "Keep HTML elements matching a CSS selector" }
func (f *cssFilter) Keys() []string      { return []string{"selector", "exclude", "maxitems"} }
func (f *cssFilter) DefaultKey() string  { return "selector" }

func (f *cssFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	selector := strings.TrimSpace(stringValue(config, "selector", ""))
	if selector == "" {
		return data, mimeType, fmt.Errorf("css filter needs a selector")
	}

	maxItems := 0
	if v, ok := config["maxitems"]; ok {
		n, isInt := v.(int)
		if !isInt || n < 0 {
			return data, mimeType, fmt.Errorf("maxitems must be a non-negative integer, got %v", v)
		}
		maxItems = n
	}

	doc, err := html.Parse(strings.NewReader(data))
	if err != nil {
		return data, mimeType, fmt.Errorf("parsing HTML: %w", err)
	}

	matches := querySelectorAll(doc, selector)
	if maxItems > 0 && len(matches) > maxItems {
		matches = matches[:maxItems]
	}

	if exclude := strings.TrimSpace(stringValue(config, "exclude", "")); exclude != "" {
		for _, m := range matches {
			for _, n := range querySelectorAll(m, exclude) {
				if n.Parent != nil && n != m {
					n.Parent.RemoveChild(n)
				}
			}
		}
	}

	rendered := make([]string, 0, len(matches))
	for _, m := range matches {
		var buf bytes.Buffer
		if err := html.Render(&buf, m); err != nil {
			return data, mimeType, fmt.Errorf("rendering match: %w", err)
		}
		rendered = append(rendered, buf.String())
	}
	return strings.Join(rendered, "\n"), mimeType, nil
}

// querySelectorAll returns the nodes under root matching selector, in document order
func querySelectorAll(root *html.Node, selector string) []*html.Node {
	var all []*html.Node
	seen := make(map[*html.Node]bool)

	for _, group := range strings.Split(selector, ",") {
		parts := strings.Fields(group)
		if len(parts) == 0 {
			continue
		}

		matches := matchSimple(root, parseSimpleSelector(parts[0]), false)
		for i := 1; i < len(parts); i++ {
			sel := parseSimpleSelector(parts[i])
			var next []*html.Node
			for _, parent := range matches {
				next = append(next, matchSimple(parent, sel, true)...)
			}
			matches = next
		}

		for _, n := range matches {
			if !seen[n] {
				seen[n] = true
				all = append(all, n)
			}
		}
	}

	if len(all) > 1 {
		order := documentOrder(root)
		sortByOrder(all, order)
	}
	return all
}

// matchSimple finds all nodes matching one selector part. With descendantsOnly
// the root itself is not considered.
func matchSimple(root *html.Node, sel simpleSelector, descendantsOnly bool) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if (n != root || !descendantsOnly) && matchesSelector(n, sel) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasVal  bool
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if key, val, ok := strings.Cut(attrPart, "="); ok {
			s.attrKey = key
			s.attrVal = strings.Trim(val, `"'`)
			s.hasVal = true
		} else {
			s.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
		if dot := strings.IndexByte(s.id, '.'); dot >= 0 {
			sel += s.id[dot:]
			s.id = s.id[:dot]
		}
	}

	parts := strings.Split(sel, ".")
	s.tag = strings.ToLower(parts[0])
	for _, class := range parts[1:] {
		if class != "" {
			s.classes = append(s.classes, class)
		}
	}
	return s
}

// matchesSelector checks if a node matches a parsed simple selector
func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}

	if s.tag != "" && s.tag != "*" && n.Data != s.tag {
		return false
	}

	if s.id != "" && getAttr(n, "id") != s.id {
		return false
	}

	if len(s.classes) > 0 {
		have := strings.Fields(getAttr(n, "class"))
		for _, want := range s.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	if s.attrKey != "" {
		val, ok := lookupAttr(n, s.attrKey)
		if !ok || (s.hasVal && val != s.attrVal) {
			return false
		}
	}

	return true
}

// getAttr returns the value of an attribute on a node
func getAttr(n *html.Node, key string) string {
	val, _ := lookupAttr(n, key)
	return val
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

func documentOrder(root *html.Node) map[*html.Node]int {
	order := make(map[*html.Node]int)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		order[n] = len(order)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return order
}

func sortByOrder(nodes []*html.Node, order map[*html.Node]int) {
	// insertion sort; match lists are short
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && order[nodes[j]] < order[nodes[j-1]]; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
