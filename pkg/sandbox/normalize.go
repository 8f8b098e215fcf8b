package sandbox

import "strings"

const fence = "```"

// Normalize strips a single leading fence (with an optional language tag)
// and a single trailing fence from generated code, trimming surrounding
// whitespace. Nested fences are left alone.
func Normalize(code string) string {
	cleaned := strings.TrimSpace(code)

	if rest, ok := strings.CutPrefix(cleaned, fence); ok {
		cleaned = strings.TrimSpace(dropLanguageTag(rest))
	}

	if rest, ok := strings.CutSuffix(cleaned, fence); ok {
		cleaned = strings.TrimSpace(rest)
	}

	return cleaned
}

// dropLanguageTag removes the language tag after an opening fence. A line
// holding only a tag ("python", "py3") is dropped whole. A line starting with
// a known tag followed by code ("python print(1)") loses just the tag.
func dropLanguageTag(s string) string {
	line, rest, found := strings.Cut(s, "\n")
	if isLanguageTag(strings.TrimRight(line, " \t\r")) {
		if !found {
			return ""
		}
		return rest
	}
	if tag, code, ok := strings.Cut(line, " "); ok && knownTags[strings.ToLower(tag)] {
		if !found {
			return code
		}
		return code + "\n" + rest
	}
	return s
}

// knownTags are the fence tags recognized in front of code on the same line.
var knownTags = map[string]bool{
	"python": true, "python3": true, "py": true, "py3": true,
	"sh": true, "bash": true, "shell": true,
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '+', r == '.':
		default:
			return false
		}
	}
	return true
}
