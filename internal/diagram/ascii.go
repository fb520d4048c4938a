package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

func statusTag(status string) string {
	switch status {
	case StatusCompleted:
		return "[OK]"
	case StatusFailed:
		return "[FAIL]"
	case StatusToolError:
		return "[TOOL ERR]"
	case StatusRunning:
		return "[RUN]"
	case StatusSuspended:
		return "[WAIT]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as a level-based text diagram using
// box-drawing characters. Edges whose target is not on the next level are
// listed below the boxes.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	levelOf := make(map[string]int)
	for i, level := range model.Levels {
		var boxes []asciiBox
		for _, id := range level {
			levelOf[id] = i
			if node := model.node(id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if i < len(model.Levels)-1 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	var extra []Edge
	for _, e := range model.Edges {
		if e.Label != "" || levelOf[e.To] != levelOf[e.From]+1 {
			extra = append(extra, e)
		}
	}
	if len(extra) > 0 {
		b.WriteString("\n--- edges ---\n")
		for _, e := range extra {
			if e.Label != "" {
				fmt.Fprintf(&b, "  %s ─→ %s  [%s]\n", e.From, e.To, e.Label)
				continue
			}
			fmt.Fprintf(&b, "  %s ─→ %s\n", e.From, e.To)
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := strings.Split(node.Label, "\n")
	if node.Status != nil {
		tag := statusTag(node.Status.Status)
		if node.Status.Current {
			tag = strings.TrimSpace(tag + " *")
		}
		if tag != "" {
			content = append(content, tag)
		}
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, line := range content {
		pad := strings.Repeat(" ", maxLen-utf8.RuneCountInString(line))
		lines = append(lines, "│ "+line+pad+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := 0; row < height; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
