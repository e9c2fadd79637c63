package filters

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// html2textFilter converts HTML into markdown (default) or plain text
type html2textFilter struct {
	once sync.Once
	conv *converter.Converter
}

func (f *html2textFilter) Name() string       { return "html2text" }
func (f *html2textFilter) Description() string { return "Convert HTML to markdown or plain text" }
func (f *html2textFilter) Keys() []string     { return []string{"method"} }
func (f *html2textFilter) DefaultKey() string { return "method" }

func (f *html2textFilter) converter() *converter.Converter {
	f.once.Do(func() {
		f.conv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	return f.conv
}

func (f *html2textFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	switch method := stringValue(config, "method", "markdown"); method {
	case "markdown":
		var out string
		var err error
		if strings.HasPrefix(ctx.Location, "http://") || strings.HasPrefix(ctx.Location, "https://") {
			out, err = f.converter().ConvertString(data, converter.WithDomain(ctx.Location))
		} else {
			out, err = f.converter().ConvertString(data)
		}
		if err != nil {
			return data, mimeType, fmt.Errorf("converting to markdown: %w", err)
		}
		return strings.TrimSpace(out), "text/markdown", nil
	case "text":
		doc, err := html.Parse(strings.NewReader(data))
		if err != nil {
			return data, mimeType, fmt.Errorf("parsing HTML: %w", err)
		}
		return collectText(doc), "text/plain", nil
	default:
		return data, mimeType, fmt.Errorf("unknown method %q (want markdown or text)", method)
	}
}

// stripTagsFilter removes every HTML tag and unescapes entities
type stripTagsFilter struct {
	once   sync.Once
	policy *bluemonday.Policy
}

func (f *stripTagsFilter) Name() string       { return "strip_tags" }
func (f *stripTagsFilter) Description() string { return "Remove HTML tags, keeping the text" }
func (f *stripTagsFilter) Keys() []string     { return nil }
func (f *stripTagsFilter) DefaultKey() string { return "" }

func (f *stripTagsFilter) Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error) {
	f.once.Do(func() {
		f.policy = bluemonday.StrictPolicy()
	})
	stripped := html.UnescapeString(f.policy.Sanitize(data))
	return stripped, "text/plain", nil
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "tr": true, "ul": true,
}

// collectText renders the visible text of a node, one line per block element
func collectText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template", "head":
				return
			}
		}
		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			sb.WriteString("\n")
		}
	}
	walk(root)

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
