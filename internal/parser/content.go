package parser

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// extractText flattens message content into readable text.
// content can be a plain string or a JSON array of typed blocks
// (text, thinking, tool_use, tool_result). Returns the text plus
// a metadata bag noting thinking and tool activity; meta is nil
// when there is nothing to note.
func extractText(content gjson.Result) (string, map[string]string) {
	if content.Type == gjson.String {
		return content.Str, nil
	}
	if !content.IsArray() {
		return "", nil
	}

	var (
		parts []string
		tools []string
		meta  map[string]string
	)
	note := func(k, v string) {
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[k] = v
	}

	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").Str {
		case "text":
			if text := block.Get("text").Str; text != "" {
				parts = append(parts, text)
			}
		case "thinking":
			if th := block.Get("thinking").Str; th != "" {
				note("thinking", "true")
				parts = append(parts,
					"[Thinking]\n"+th+"\n[/Thinking]")
			}
		case "tool_use":
			name := block.Get("name").Str
			if name == "" {
				return true
			}
			tools = append(tools, name)
			parts = append(parts, formatToolUse(name, block.Get("input")))
		case "tool_result":
			// Tool output is bulky and rarely worth indexing;
			// record only that a result was present.
			note("tool_result", "true")
		}
		return true
	})

	if len(tools) > 0 {
		note("tools", strings.Join(tools, ","))
	}
	return strings.Join(parts, "\n"), meta
}

// formatToolUse renders a tool invocation as a compact one-line
// (or few-line) marker embedded in the message text.
func formatToolUse(name string, input gjson.Result) string {
	switch name {
	case "Read":
		return fmt.Sprintf("[Read: %s]", input.Get("file_path").Str)
	case "Edit":
		return fmt.Sprintf("[Edit: %s]", input.Get("file_path").Str)
	case "Write":
		return fmt.Sprintf("[Write: %s]", input.Get("file_path").Str)
	case "Glob":
		return fmt.Sprintf("[Glob: %s]", input.Get("pattern").Str)
	case "Grep":
		return fmt.Sprintf("[Grep: %s]", input.Get("pattern").Str)
	case "Bash":
		cmd := input.Get("command").Str
		if desc := input.Get("description").Str; desc != "" {
			return fmt.Sprintf("[Bash: %s]\n$ %s", desc, cmd)
		}
		return fmt.Sprintf("[Bash]\n$ %s", cmd)
	case "Task":
		return fmt.Sprintf("[Task: %s]", input.Get("description").Str)
	case "TodoWrite":
		return "[Todo List]"
	default:
		return fmt.Sprintf("[Tool: %s]", name)
	}
}
