package knowledge

import (
	"path/filepath"
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// maxNodeRunes bounds plain-text nodes.
const maxNodeRunes = 1500

// SplitDocument derives a document title and its nodes from file content.
// Markdown splits on headings; text before the first heading becomes a node
// titled after the document. Plain text groups paragraphs up to maxNodeRunes.
func SplitDocument(relPath string, content string) (string, []Node) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	fallback := strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))

	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".md", ".markdown":
		return splitMarkdown(fallback, content)
	default:
		return fallback, splitParagraphs(fallback, content)
	}
}

func splitMarkdown(fallback, content string) (string, []Node) {
	title := fallback
	var nodes []Node
	current := fallback
	var body []string
	inFence := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" {
			nodes = append(nodes, Node{Title: current, Content: text})
		}
		body = body[:0]
	}

	titled := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				flush()
				current = m[2]
				if !titled && len(m[1]) == 1 {
					title = m[2]
					titled = true
				}
				continue
			}
		}
		body = append(body, line)
	}
	flush()

	return title, nodes
}

func splitParagraphs(title, content string) []Node {
	var nodes []Node
	var buf strings.Builder
	size := 0

	flush := func() {
		if text := strings.TrimSpace(buf.String()); text != "" {
			nodes = append(nodes, Node{Title: title, Content: text})
		}
		buf.Reset()
		size = 0
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := len([]rune(para))
		if size > 0 && size+n > maxNodeRunes {
			flush()
		}
		if size > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		size += n
	}
	flush()
	return nodes
}
