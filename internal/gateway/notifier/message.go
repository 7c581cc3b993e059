package notifier

import (
	"strings"
	"time"
)

// Telegram 单条消息上限 4096 字符，预留页脚余量。
const maxMessageRunes = 3800

type Section struct {
	Title string
	Lines []string
}

// Message 渲染为 Markdown：标题、等宽代码块中的各段落、页脚与时间。
type Message struct {
	Title    string
	Sections []Section
	Footer   string
	Time     time.Time
	Location *time.Location
}

func (m Message) Markdown() string {
	var b strings.Builder
	if title := strings.TrimSpace(m.Title); title != "" {
		b.WriteString("*" + escapeMarkdown(title) + "*\n\n")
	}
	if block := m.renderSections(); block != "" {
		b.WriteString("```\n")
		b.WriteString(block)
		b.WriteString("```\n")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeMarkdown(footer) + "\n")
	}
	if !m.Time.IsZero() {
		loc := m.Location
		if loc == nil {
			loc = time.UTC
		}
		b.WriteString(m.Time.In(loc).Format("2006-01-02 15:04:05 MST"))
	}
	out := strings.TrimSpace(b.String())
	if runes := []rune(out); len(runes) > maxMessageRunes {
		out = string(runes[:maxMessageRunes]) + "..."
	}
	return out
}

func (m Message) renderSections() string {
	var parts []string
	for _, sec := range m.Sections {
		var lines []string
		for _, line := range sec.Lines {
			if text := strings.TrimSpace(line); text != "" {
				lines = append(lines, strings.ReplaceAll(text, "```", "'''"))
			}
		}
		if len(lines) == 0 {
			continue
		}
		var b strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString("[" + title + "]\n")
		}
		for _, line := range lines {
			b.WriteString("  " + line + "\n")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
