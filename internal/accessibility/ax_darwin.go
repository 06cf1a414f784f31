//go:build darwin

// File: internal/accessibility/ax_darwin.go
package accessibility

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// axBridge reads the macOS accessibility hierarchy through System Events,
// driven by osascript. Each query is one script invocation emitting a
// tab-separated line per element, which keeps the parsing trivial and the
// process short-lived.
type axBridge struct {
	cfg    config.AccessibilityConfig
	logger *zap.Logger

	runScript func(ctx context.Context, script string) (string, error)
}

func newPlatformBridge(cfg config.AccessibilityConfig, logger *zap.Logger) bridge {
	return &axBridge{cfg: cfg, logger: logger, runScript: runOsascript}
}

func runOsascript(ctx context.Context, script string) (string, error) {
	out, err := exec.CommandContext(ctx, "osascript", "-e", script).Output()
	if err != nil {
		return "", fmt.Errorf("osascript: %w", err)
	}
	return string(out), nil
}

func (b *axBridge) Platform() string { return "darwin/ax" }
func (b *axBridge) CanInvoke() bool  { return true }

const axListScript = `
tell application "System Events"
	set procName to name of first process whose name contains %q and background only is false
	tell process procName
		set lines to {}
		repeat with w in windows
			repeat with el in entire contents of w
				try
					set r to role of el
					if r is in {"AXButton", "AXCheckBox", "AXRadioButton", "AXMenuItem", "AXTextField", "AXTextArea", "AXLink", "AXPopUpButton", "AXTab", "AXSlider"} then
						set {px, py} to position of el
						set {sw, sh} to size of el
						set t to ""
						try
							set t to title of el
						end try
						if t is "" then
							try
								set t to value of el as text
							end try
						end if
						set en to "1"
						try
							if enabled of el is false then set en to "0"
						end try
						set end of lines to procName & tab & r & tab & t & tab & px & tab & py & tab & sw & tab & sh & tab & en
					end if
				end try
			end repeat
		end repeat
		set AppleScript's text item delimiters to linefeed
		return lines as text
	end tell
end tell`

func (b *axBridge) Elements(ctx context.Context, app string) ([]rawElement, error) {
	out, err := b.runScript(ctx, fmt.Sprintf(axListScript, app))
	if err != nil {
		return nil, err
	}
	return parseAXLines(out), nil
}

func parseAXLines(out string) []rawElement {
	var elements []rawElement
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) != 8 {
			continue
		}
		x, errX := strconv.Atoi(fields[3])
		y, errY := strconv.Atoi(fields[4])
		w, errW := strconv.Atoi(fields[5])
		h, errH := strconv.Atoi(fields[6])
		if errX != nil || errY != nil || errW != nil || errH != nil {
			continue
		}
		elements = append(elements, rawElement{
			App:     fields[0],
			Role:    fields[1],
			Title:   fields[2],
			X:       x,
			Y:       y,
			W:       w,
			H:       h,
			Enabled: fields[7] == "1",
		})
	}
	return elements
}

const axInvokeScript = `
tell application "System Events"
	set procName to name of first process whose name contains %q and background only is false
	tell process procName
		repeat with w in windows
			repeat with el in entire contents of w
				try
					if title of el is %q then
						perform action "AXPress" of el
						return "ok"
					end if
				end try
			end repeat
		end repeat
	end tell
end tell
return "miss"`

func (b *axBridge) Invoke(ctx context.Context, app, title string) (bool, error) {
	out, err := b.runScript(ctx, fmt.Sprintf(axInvokeScript, app, title))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "ok", nil
}

func (b *axBridge) Frontmost(ctx context.Context) (string, error) {
	out, err := b.runScript(ctx,
		`tell application "System Events" to return name of first process whose frontmost is true`)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (b *axBridge) Running(ctx context.Context) ([]string, error) {
	out, err := b.runScript(ctx,
		`tell application "System Events" to return name of every process whose background only is false`)
	if err != nil {
		return nil, err
	}
	var apps []string
	for _, name := range strings.Split(strings.TrimSpace(out), ", ") {
		if name != "" {
			apps = append(apps, name)
		}
	}
	return apps, nil
}
