package extract

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// Elements rendered as their own block; everything else is inline content.
var blockElements = map[string]struct{}{
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"p": {}, "ul": {}, "ol": {}, "pre": {}, "blockquote": {},
	"table": {}, "hr": {}, "div": {}, "section": {}, "article": {},
	"main": {}, "body": {}, "figure": {}, "details": {}, "dl": {},
	"fieldset": {}, "address": {},
}

var headingLevels = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

type markdownRenderer struct {
	sb         strings.Builder
	base       string
	headings   []generator.Heading
	codeBlocks []generator.CodeBlock
}

func newMarkdownRenderer(base string) *markdownRenderer {
	return &markdownRenderer{base: base}
}

// renderBlock dispatches one node as block content.
func (r *markdownRenderer) renderBlock(n *html.Node) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		if text := collapseSpace(n.Data); text != "" {
			r.writeBlock(text)
		}
		return
	}
	if n.Type != html.ElementNode && n.Type != html.DocumentNode {
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := headingLevels[n.Data]
		text := strings.TrimSpace(r.renderInlineChildren(n))
		if text == "" {
			return
		}
		r.headings = append(r.headings, generator.Heading{Level: level, Text: text})
		r.writeBlock(strings.Repeat("#", level) + " " + text)
	case "p":
		if text := strings.TrimSpace(r.renderInlineChildren(n)); text != "" {
			r.writeBlock(text)
		}
	case "pre":
		r.renderCode(n)
	case "ul":
		r.writeBlock(strings.TrimRight(r.renderList(n, false, 0), "\n"))
	case "ol":
		r.writeBlock(strings.TrimRight(r.renderList(n, true, 0), "\n"))
	case "blockquote":
		r.renderBlockquote(n)
	case "table":
		r.renderTable(n)
	case "hr":
		r.writeBlock("---")
	default:
		if n.Type == html.ElementNode {
			if _, isBlock := blockElements[n.Data]; !isBlock {
				// Inline element reached at block level (a bare <a> or
				// <code> between divs); render it as a paragraph.
				if text := strings.TrimSpace(r.renderInline(n)); text != "" {
					r.writeBlock(text)
				}
				return
			}
		}
		r.renderContainer(n)
	}
}

// renderContainer walks a generic container, batching consecutive inline
// children into paragraphs and dispatching block children recursively.
func (r *markdownRenderer) renderContainer(n *html.Node) {
	var pending strings.Builder
	flush := func() {
		if text := strings.TrimSpace(pending.String()); text != "" {
			r.writeBlock(text)
		}
		pending.Reset()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if _, isBlock := blockElements[c.Data]; isBlock || c.Data == "hr" {
				flush()
				r.renderBlock(c)
				continue
			}
		}
		pending.WriteString(r.renderInline(c))
	}
	flush()
}

func (r *markdownRenderer) renderInlineChildren(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(r.renderInline(c))
	}
	return sb.String()
}

// renderInline converts inline content: links, emphasis, inline code, text.
func (r *markdownRenderer) renderInline(n *html.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case html.TextNode:
		return collapseSpace(n.Data)
	case html.ElementNode:
	default:
		return ""
	}

	switch n.Data {
	case "a":
		text := strings.TrimSpace(r.renderInlineChildren(n))
		if text == "" {
			return ""
		}
		href := attr(n, "href")
		abs := generator.ResolveRef(r.base, href)
		if abs == "" {
			return text
		}
		return fmt.Sprintf("[%s](%s)", text, abs)
	case "code", "kbd", "samp":
		code := textContent(n)
		code = strings.TrimSpace(strings.ReplaceAll(code, "\n", " "))
		if code == "" {
			return ""
		}
		return "`" + code + "`"
	case "strong", "b":
		if text := strings.TrimSpace(r.renderInlineChildren(n)); text != "" {
			return "**" + text + "**"
		}
		return ""
	case "em", "i":
		if text := strings.TrimSpace(r.renderInlineChildren(n)); text != "" {
			return "*" + text + "*"
		}
		return ""
	case "br":
		return "\n"
	case "img", "picture", "video", "audio":
		return ""
	default:
		return r.renderInlineChildren(n)
	}
}

// renderCode emits a fenced block, keeping the code text verbatim and the
// language hint from a class="language-*" attribute.
func (r *markdownRenderer) renderCode(pre *html.Node) {
	lang := languageHint(pre)
	code := pre
	for c := pre.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			code = c
			if lang == "" {
				lang = languageHint(c)
			}
			break
		}
	}
	text := strings.TrimRight(textContent(code), "\n")
	text = strings.TrimPrefix(text, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	r.codeBlocks = append(r.codeBlocks, generator.CodeBlock{Language: lang, Code: text})
	r.writeBlock("```" + lang + "\n" + text + "\n```")
}

var languageClass = regexp.MustCompile(`(?:^|\s)(?:language|lang)-([\w#+-]+)`)

func languageHint(n *html.Node) string {
	if m := languageClass.FindStringSubmatch(attr(n, "class")); m != nil {
		return m[1]
	}
	return ""
}

func (r *markdownRenderer) renderList(n *html.Node, ordered bool, depth int) string {
	var sb strings.Builder
	indent := strings.Repeat("  ", depth)
	index := 1
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", index)
			index++
		}

		var inline strings.Builder
		var nested []string
		for lc := c.FirstChild; lc != nil; lc = lc.NextSibling {
			if lc.Type == html.ElementNode && (lc.Data == "ul" || lc.Data == "ol") {
				nested = append(nested, r.renderList(lc, lc.Data == "ol", depth+1))
				continue
			}
			inline.WriteString(r.renderInline(lc))
		}
		text := strings.TrimSpace(inline.String())
		if text != "" {
			sb.WriteString(indent + marker + text + "\n")
		}
		for _, sub := range nested {
			sb.WriteString(sub)
		}
	}
	return sb.String()
}

func (r *markdownRenderer) renderBlockquote(n *html.Node) {
	inner := newMarkdownRenderer(r.base)
	inner.renderContainer(n)
	quoted := strings.TrimSpace(inner.sb.String())
	if quoted == "" {
		return
	}
	lines := strings.Split(quoted, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	r.headings = append(r.headings, inner.headings...)
	r.codeBlocks = append(r.codeBlocks, inner.codeBlocks...)
	r.writeBlock(strings.Join(lines, "\n"))
}

func (r *markdownRenderer) renderTable(n *html.Node) {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "tr":
				var cells []string
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						text := strings.TrimSpace(r.renderInlineChildren(cell))
						cells = append(cells, strings.ReplaceAll(text, "|", `\|`))
					}
				}
				if len(cells) > 0 {
					rows = append(rows, cells)
				}
			case "thead", "tbody", "tfoot":
				walk(c)
			}
		}
	}
	walk(n)
	if len(rows) == 0 {
		return
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	var sb strings.Builder
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		sb.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	r.writeBlock(strings.TrimRight(sb.String(), "\n"))
}

func (r *markdownRenderer) writeBlock(text string) {
	r.sb.WriteString(text)
	r.sb.WriteString("\n\n")
}

var multiBlank = regexp.MustCompile(`\n{3,}`)

// result collapses runs of blank lines, trims, and guarantees the output
// ends with a single newline.
func (r *markdownRenderer) result() string {
	out := r.sb.String()
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out = strings.Join(lines, "\n")
	out = multiBlank.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	if out == "" {
		return ""
	}
	return out + "\n"
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent returns the raw text of a subtree without whitespace
// collapsing (used for code blocks).
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

var spaceRun = regexp.MustCompile(`[ \t\r\n\f]+`)

func collapseSpace(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}
