package parse

import (
	"strings"

	"github.com/tetherdev/tether/internal/entity"
)

// sectionTitles maps canonical field names to their heading titles,
// index-aligned with entity.FieldNames.
var sectionTitles = []string{"Problem", "Solution", "Approach", "Files", "Acceptance Criteria"}

// ReplaceContent returns src with the content sections of the entity id
// rewritten from content. The heading line and metadata bullets are
// preserved; sections are re-emitted in canonical order one level below
// the entity heading. Returns false if the id is not found.
//
// Like Parse, this is a pure function; the caller owns file I/O.
func ReplaceContent(src, id string, content entity.Content) (string, bool) {
	lines := strings.Split(src, "\n")

	start := -1
	depth := 0
	for i, line := range lines {
		m := headingPattern.FindStringSubmatch(line)
		if m != nil && m[3] == id {
			start = i
			depth = len(m[1])
			break
		}
	}
	if start < 0 {
		return src, false
	}

	end := start + 1
	for end < len(lines) && headingPattern.FindStringSubmatch(lines[end]) == nil {
		end++
	}

	// Keep the heading and any metadata bullets that precede content.
	kept := []string{lines[start]}
	for _, line := range lines[start+1 : end] {
		if metaPattern.MatchString(strings.TrimSpace(line)) {
			kept = append(kept, line)
			continue
		}
		break
	}

	marker := strings.Repeat("#", depth+1)
	fields := content.Fields()
	var body []string
	for i, title := range sectionTitles {
		if fields[i] == "" {
			continue
		}
		body = append(body, "", marker+" "+title, fields[i])
	}
	if len(body) > 0 {
		body = append(body, "")
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start]...)
	out = append(out, kept...)
	out = append(out, body...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), true
}

// ReplaceMarker returns src with the status symbol in the entity's
// heading replaced. This is the serialize half of the marker boundary:
// pull mirrors the remote status into the checkbox. Returns false when
// the id is not found or the marker already matches.
func ReplaceMarker(src, id string, sym entity.Symbol) (string, bool) {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		m := headingPattern.FindStringSubmatch(line)
		if m == nil || m[3] != id {
			continue
		}
		if m[2] == string(sym) {
			return src, false
		}
		lines[i] = m[1] + " [" + string(sym) + "] " + m[3] + ": " + m[4]
		return strings.Join(lines, "\n"), true
	}
	return src, false
}
