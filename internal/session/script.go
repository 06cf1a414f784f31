// File: internal/session/script.go
package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/skua-labs/deskpilot/internal/loop"
)

// ScriptDecider replays a parsed instruction list as directives, ending with
// an implicit Done when the script runs out.
type ScriptDecider struct {
	directives []loop.Directive
}

func NewScriptDecider(directives []loop.Directive) *ScriptDecider {
	return &ScriptDecider{directives: directives}
}

func (d *ScriptDecider) NextDirective(_ context.Context, obs loop.Observation) (loop.Directive, error) {
	if obs.Step >= len(d.directives) {
		return loop.Directive{Done: true, Summary: "script complete"}, nil
	}
	return d.directives[obs.Step], nil
}

// ParseScript turns instruction lines into directives. Supported forms:
//
//	click <target>
//	type <text> into <target>
//	type <text>
//	scroll up|down [notches]
//	done [summary]
//
// Blank lines and lines starting with # are skipped.
func ParseScript(lines []string) ([]loop.Directive, error) {
	var out []loop.Directive
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch strings.ToLower(verb) {
		case "click":
			if rest == "" {
				return nil, fmt.Errorf("line %d: click needs a target", i+1)
			}
			out = append(out, loop.Directive{Action: loop.ActionClick, Target: rest})

		case "type":
			if rest == "" {
				return nil, fmt.Errorf("line %d: type needs text", i+1)
			}
			text, target := splitTypeArgs(rest)
			out = append(out, loop.Directive{Action: loop.ActionType, Text: text, Target: target})

		case "scroll":
			d, err := parseScroll(rest)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			out = append(out, d)

		case "done":
			out = append(out, loop.Directive{Done: true, Summary: rest})

		default:
			return nil, fmt.Errorf("line %d: unknown instruction %q", i+1, verb)
		}
	}
	return out, nil
}

// splitTypeArgs separates `<text> into <target>`; the last " into " wins so
// text containing the word keeps working.
func splitTypeArgs(rest string) (text, target string) {
	if idx := strings.LastIndex(rest, " into "); idx >= 0 {
		return unquote(rest[:idx]), strings.TrimSpace(rest[idx+len(" into "):])
	}
	return unquote(rest), ""
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func parseScroll(rest string) (loop.Directive, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return loop.Directive{}, fmt.Errorf("scroll needs a direction")
	}

	notches := 3
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return loop.Directive{}, fmt.Errorf("bad scroll amount %q", fields[1])
		}
		notches = n
	}

	switch strings.ToLower(fields[0]) {
	case "down":
		return loop.Directive{Action: loop.ActionScroll, ScrollDY: notches}, nil
	case "up":
		return loop.Directive{Action: loop.ActionScroll, ScrollDY: -notches}, nil
	}
	return loop.Directive{}, fmt.Errorf("unknown scroll direction %q", fields[0])
}
