package parser

import (
	"strings"
)

// tableRows returns the data lines of a virsh table. The header is every
// line before the first separator line of dashes, since column widths vary
// between versions. Without a separator, a leading line whose first field is
// firstHeader is treated as the header.
func tableRows(text, firstHeader string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := 0
	for i, line := range lines {
		if isSeparator(line) {
			start = i + 1
			break
		}
	}

	headerAt := -1
	if start == 0 {
		headerAt = firstNonEmpty(lines)
	}

	var rows []string
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || isSeparator(trimmed) {
			continue
		}
		if i == headerAt && strings.EqualFold(strings.Fields(trimmed)[0], firstHeader) {
			continue
		}
		rows = append(rows, trimmed)
	}
	return rows
}

func isSeparator(line string) bool {
	s := strings.TrimSpace(line)
	return len(s) >= 3 && strings.Trim(s, "-") == ""
}

func firstNonEmpty(lines []string) int {
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return i
		}
	}
	return -1
}

// keyValues splits "Key:   value" lines. Lines without a colon are returned
// as bad so callers can reject them.
func keyValues(text string) (kv map[string]string, bad string) {
	kv = make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return kv, line
		}
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kv, ""
}

func yesNo(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "yes", "enable", "enabled", "active":
		return true, true
	case "no", "disable", "disabled", "inactive":
		return false, true
	}
	return false, false
}
