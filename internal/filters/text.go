package filters

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type stripFilter struct{}

func (f *stripFilter) Name() string        { return "strip" }
func (f *stripFilter) Description() string { return "Strip leading and trailing whitespace or characters" }
func (f *stripFilter) Keys() []string      { return []string{"chars", "side", "splitlines"} }
func (f *stripFilter) DefaultKey() string  { return "chars" }

func (f *stripFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	chars := stringValue(config, "chars", "")
	side := stringValue(config, "side", "both")
	splitLines, err := boolValue(config, "splitlines", false)
	if err != nil {
		return data, mimeType, err
	}

	var strip func(string) string
	switch side {
	case "both":
		strip = func(s string) string {
			if chars == "" {
				return strings.TrimSpace(s)
			}
			return strings.Trim(s, chars)
		}
	case "left":
		strip = func(s string) string {
			if chars == "" {
				return strings.TrimLeft(s, " \t\n\r\v\f")
			}
			return strings.TrimLeft(s, chars)
		}
	case "right":
		strip = func(s string) string {
			if chars == "" {
				return strings.TrimRight(s, " \t\n\r\v\f")
			}
			return strings.TrimRight(s, chars)
		}
	default:
		return data, mimeType, fmt.Errorf("side must be both, left or right, got %q", side)
	}

	if !splitLines {
		return strip(data), mimeType, nil
	}
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		lines[i] = strip(line)
	}
	return strings.Join(lines, "\n"), mimeType, nil
}

// lineMatchFilter keeps or deletes the lines containing a text or matching a pattern
type lineMatchFilter struct {
	kind string
	keep bool
}

func (f *lineMatchFilter) Name() string { return f.kind }
func (f *lineMatchFilter) Description() string {
	if f.keep {
		return "Keep only lines containing a text or matching a regular expression"
	}
	return "Delete lines containing a text or matching a regular expression"
}
func (f *lineMatchFilter) Keys() []string     { return []string{"text", "re"} }
func (f *lineMatchFilter) DefaultKey() string { return "text" }

func (f *lineMatchFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	var match func(string) bool
	if pattern := stringValue(config, "re", ""); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return data, mimeType, fmt.Errorf("invalid re: %w", err)
		}
		match = re.MatchString
	} else if text := stringValue(config, "text", ""); text != "" {
		match = func(line string) bool { return strings.Contains(line, text) }
	} else {
		return data, mimeType, fmt.Errorf("%s needs text or re", f.kind)
	}

	lines := strings.Split(data, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if match(line) == f.keep {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), mimeType, nil
}

var pythonGroupRef = regexp.MustCompile(`\\(\d+)`)

// reSubFilter replaces every match of a regular expression
type reSubFilter struct{}

func (f *reSubFilter) Name() string        { return "re.sub" }
func (f *reSubFilter) Description() string { return "Replace text matching a regular expression" }
func (f *reSubFilter) Keys() []string      { return []string{"pattern", "repl"} }
func (f *reSubFilter) DefaultKey() string  { return "pattern" }

func (f *reSubFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	pattern := stringValue(config, "pattern", "")
	if pattern == "" {
		return data, mimeType, fmt.Errorf("re.sub needs a pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return data, mimeType, fmt.Errorf("invalid pattern: %w", err)
	}
	// \1 style group references are accepted alongside ${1}
	repl := pythonGroupRef.ReplaceAllString(stringValue(config, "repl", ""), "$${$1}")
	return re.ReplaceAllString(data, repl), mimeType, nil
}

type sortFilter struct{}

func (f *sortFilter) Name() string        { return "sort" }
func (f *sortFilter) Description() string { return "Sort lines" }
func (f *sortFilter) Keys() []string      { return []string{"reverse", "separator"} }
func (f *sortFilter) DefaultKey() string  { return "separator" }

func (f *sortFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	reverse, err := boolValue(config, "reverse", false)
	if err != nil {
		return data, mimeType, err
	}
	sep := stringValue(config, "separator", "\n")

	items := strings.Split(data, sep)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(items)))
	} else {
		sort.Strings(items)
	}
	return strings.Join(items, sep), mimeType, nil
}

type removeDuplicateLinesFilter struct{}

func (f *removeDuplicateLinesFilter) Name() string { return "remove_duplicate_lines" }
func (f *removeDuplicateLinesFilter) Description() string {
	return "Remove repeated lines, keeping the first occurrence"
}
func (f *removeDuplicateLinesFilter) Keys() []string     { return []string{"separator"} }
func (f *removeDuplicateLinesFilter) DefaultKey() string { return "separator" }

func (f *removeDuplicateLinesFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	sep := stringValue(config, "separator", "\n")
	seen := make(map[string]bool)
	var kept []string
	for _, item := range strings.Split(data, sep) {
		if seen[item] {
			continue
		}
		seen[item] = true
		kept = append(kept, item)
	}
	return strings.Join(kept, sep), mimeType, nil
}

type reverseFilter struct{}

func (f *reverseFilter) Name() string        { return "reverse" }
func (f *reverseFilter) Description() string { return "Reverse the order of lines" }
func (f *reverseFilter) Keys() []string      { return []string{"separator"} }
func (f *reverseFilter) DefaultKey() string  { return "separator" }

func (f *reverseFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	sep := stringValue(config, "separator", "\n")
	items := strings.Split(data, sep)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return strings.Join(items, sep), mimeType, nil
}
