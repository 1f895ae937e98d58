// Package parse turns planning markdown into entity records.
//
// Parsing is a pure function over the file text: no file system access,
// no side effects. Malformed entities are skipped with a warning and
// never abort the rest of the file.
package parse

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tetherdev/tether/internal/entity"
)

// Warning describes a non-fatal problem found while parsing.
type Warning struct {
	// File is the origin label passed to Parse (may be empty).
	File string
	// Line is the 1-based line number the warning refers to.
	Line int
	// Msg is the human-readable description.
	Msg string
}

func (w Warning) String() string {
	if w.File == "" {
		return fmt.Sprintf("line %d: %s", w.Line, w.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", w.File, w.Line, w.Msg)
}

// Record is one parsed entity plus its source position.
type Record struct {
	entity.Entity

	// Line is the heading line the entity was parsed from.
	Line int
}

// fileDefaults are per-file defaults set by YAML frontmatter.
type fileDefaults struct {
	Assignee string `yaml:"assignee"`
	Priority string `yaml:"priority"`
}

// headingPattern matches an entity heading:
//
//	## [@] e1_s1: Ledger sprint
//
// The heading depth is presentation only; the kind derives from the ID.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+\[(.)\]\s+(\S+?):\s*(.*)$`)

// sectionNames maps content sub-heading titles to content field setters.
var sectionNames = map[string]func(*entity.Content, string){
	"problem":             func(c *entity.Content, s string) { c.Problem = s },
	"solution":            func(c *entity.Content, s string) { c.Solution = s },
	"approach":            func(c *entity.Content, s string) { c.Approach = s },
	"files":               func(c *entity.Content, s string) { c.Files = s },
	"acceptance criteria": func(c *entity.Content, s string) { c.AcceptanceCriteria = s },
}

var (
	metaPattern    = regexp.MustCompile(`^-\s+(priority|assignee)\s*:\s*(.+)$`)
	sectionPattern = regexp.MustCompile(`^(#{1,6})\s+([A-Za-z ]+?)\s*$`)
)

// Parse extracts entity records from markdown text. The file argument
// labels warnings and may be empty.
//
// Multiple in-progress markers in one file are tolerated; the first is
// primary by convention and is not the parser's concern. Entities with
// malformed IDs or unknown status symbols are skipped with a warning.
func Parse(file, src string) ([]Record, []Warning) {
	lines := strings.Split(src, "\n")

	var warnings []Warning
	warn := func(line int, format string, args ...any) {
		warnings = append(warnings, Warning{File: file, Line: line, Msg: fmt.Sprintf(format, args...)})
	}

	defaults, body := splitFrontmatter(lines)
	var fd fileDefaults
	if defaults != "" {
		if err := yaml.Unmarshal([]byte(defaults), &fd); err != nil {
			warn(1, "invalid frontmatter: %v", err)
		}
	}

	var records []Record
	seen := make(map[string]int)

	i := body
	for i < len(lines) {
		m := headingPattern.FindStringSubmatch(lines[i])
		if m == nil {
			i++
			continue
		}
		headLine := i + 1
		depth, sym, id, title := len(m[1]), m[2], m[3], strings.TrimSpace(m[4])

		// Consume everything belonging to this entity up front so a
		// malformed heading skips its whole block.
		next := i + 1
		for next < len(lines) && headingPattern.FindStringSubmatch(lines[next]) == nil {
			next++
		}
		block := lines[i+1 : next]
		i = next

		kind, err := entity.KindOf(id)
		if err != nil {
			warn(headLine, "skipping entity: %v", err)
			continue
		}
		status, err := entity.ParseSymbol(kind, sym)
		if err != nil {
			warn(headLine, "skipping %s: %v", id, err)
			continue
		}
		if title == "" {
			warn(headLine, "skipping %s: missing title", id)
			continue
		}
		if prev, dup := seen[id]; dup {
			warn(headLine, "skipping duplicate id %s (first defined at line %d)", id, prev)
			continue
		}
		seen[id] = headLine

		rec := Record{Line: headLine}
		rec.ID = id
		rec.Kind = kind
		rec.Title = title
		rec.State.Status = status
		rec.Priority = entity.ParsePriority(fd.Priority)
		rec.State.Assignee = fd.Assignee

		parseBlock(block, depth, &rec)
		rec.ContentHash = rec.Content.Hash()
		records = append(records, rec)
	}

	return records, warnings
}

// parseBlock fills metadata bullets and content sections from the lines
// between an entity heading and the next entity heading.
func parseBlock(block []string, depth int, rec *Record) {
	var (
		section  func(*entity.Content, string)
		sectText []string
	)
	flush := func() {
		if section != nil {
			section(&rec.Content, strings.TrimSpace(strings.Join(sectText, "\n")))
		}
		section = nil
		sectText = nil
	}

	inMeta := true
	for _, line := range block {
		if sm := sectionPattern.FindStringSubmatch(line); sm != nil && len(sm[1]) > depth {
			flush()
			inMeta = false
			setter, ok := sectionNames[strings.ToLower(strings.TrimSpace(sm[2]))]
			if ok {
				section = setter
			}
			continue
		}
		if section != nil {
			sectText = append(sectText, line)
			continue
		}
		if inMeta {
			if mm := metaPattern.FindStringSubmatch(strings.TrimSpace(line)); mm != nil {
				val := strings.TrimSpace(mm[2])
				switch mm[1] {
				case "priority":
					rec.Priority = entity.ParsePriority(val)
				case "assignee":
					rec.State.Assignee = val
				}
				continue
			}
			if strings.TrimSpace(line) != "" {
				inMeta = false
			}
		}
	}
	flush()
}

// splitFrontmatter returns the YAML frontmatter body (without fences)
// and the index of the first content line.
func splitFrontmatter(lines []string) (string, int) {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", 0
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), i + 1
		}
	}
	return "", 0
}
