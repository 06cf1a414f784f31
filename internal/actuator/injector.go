// File: internal/actuator/injector.go
package actuator

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Injector is the low-level input surface the actuator drives. It is
// deliberately dumb: one event per call, no pacing, no curves. All realism
// lives above it, which keeps this layer trivial to fake in tests.
type Injector interface {
	// Sleep pauses execution, respecting context cancellation.
	Sleep(ctx context.Context, d time.Duration) error

	MouseMove(ctx context.Context, x, y int) error
	MouseDown(ctx context.Context) error
	MouseUp(ctx context.Context) error

	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error

	// Wheel scrolls by whole notches; positive dy scrolls down.
	Wheel(ctx context.Context, dx, dy int) error
}

// execInjector drives the host's input synthesis tool: xdotool on Linux,
// cliclick on macOS, a small SendKeys/cursor script on Windows.
type execInjector struct {
	goos       string
	runCommand func(ctx context.Context, name string, args ...string) error
}

// NewExecInjector returns the injector for the current platform.
func NewExecInjector() Injector {
	return &execInjector{
		goos: runtime.GOOS,
		runCommand: func(ctx context.Context, name string, args ...string) error {
			if out, err := exec.CommandContext(ctx, name, args...).CombinedOutput(); err != nil {
				return fmt.Errorf("%s: %w (%s)", name, err, out)
			}
			return nil
		},
	}
}

func (i *execInjector) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *execInjector) MouseMove(ctx context.Context, x, y int) error {
	sx, sy := strconv.Itoa(x), strconv.Itoa(y)
	switch i.goos {
	case "linux":
		return i.runCommand(ctx, "xdotool", "mousemove", sx, sy)
	case "darwin":
		return i.runCommand(ctx, "cliclick", "m:"+sx+","+sy)
	case "windows":
		return i.runCommand(ctx, "powershell", "-NoProfile", "-Command",
			fmt.Sprintf("Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.Cursor]::Position = New-Object System.Drawing.Point(%d, %d)", x, y))
	}
	return fmt.Errorf("no input synthesis for %s", i.goos)
}

func (i *execInjector) MouseDown(ctx context.Context) error {
	switch i.goos {
	case "linux":
		return i.runCommand(ctx, "xdotool", "mousedown", "1")
	case "darwin":
		return i.runCommand(ctx, "cliclick", "dd:.")
	case "windows":
		return i.runCommand(ctx, "powershell", "-NoProfile", "-Command", mouseEventScript("0x0002"))
	}
	return fmt.Errorf("no input synthesis for %s", i.goos)
}

func (i *execInjector) MouseUp(ctx context.Context) error {
	switch i.goos {
	case "linux":
		return i.runCommand(ctx, "xdotool", "mouseup", "1")
	case "darwin":
		return i.runCommand(ctx, "cliclick", "du:.")
	case "windows":
		return i.runCommand(ctx, "powershell", "-NoProfile", "-Command", mouseEventScript("0x0004"))
	}
	return fmt.Errorf("no input synthesis for %s", i.goos)
}

func (i *execInjector) KeyDown(ctx context.Context, key string) error {
	switch i.goos {
	case "linux":
		return i.runCommand(ctx, "xdotool", "keydown", key)
	case "darwin":
		return i.runCommand(ctx, "cliclick", "kd:"+key)
	case "windows":
		// SendKeys has no separate down/up; emit on key down only.
		return i.runCommand(ctx, "powershell", "-NoProfile", "-Command",
			fmt.Sprintf("Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.SendKeys]::SendWait(%s)", psQuote(key)))
	}
	return fmt.Errorf("no input synthesis for %s", i.goos)
}

func (i *execInjector) KeyUp(ctx context.Context, key string) error {
	switch i.goos {
	case "linux":
		return i.runCommand(ctx, "xdotool", "keyup", key)
	case "darwin":
		return i.runCommand(ctx, "cliclick", "ku:"+key)
	case "windows":
		return nil // handled in KeyDown via SendWait
	}
	return fmt.Errorf("no input synthesis for %s", i.goos)
}

func (i *execInjector) Wheel(ctx context.Context, dx, dy int) error {
	switch i.goos {
	case "linux":
		button := "5" // scroll down
		if dy < 0 {
			button = "4"
		}
		clicks := dy
		if clicks < 0 {
			clicks = -clicks
		}
		for n := 0; n < clicks; n++ {
			if err := i.runCommand(ctx, "xdotool", "click", button); err != nil {
				return err
			}
		}
		return nil
	case "darwin":
		return i.runCommand(ctx, "cliclick", fmt.Sprintf("w:%d,%d", dx, dy))
	case "windows":
		return i.runCommand(ctx, "powershell", "-NoProfile", "-Command", mouseWheelScript(-dy*120))
	}
	return fmt.Errorf("no input synthesis for %s", i.goos)
}

func mouseEventScript(flag string) string {
	return fmt.Sprintf(`Add-Type -MemberDefinition '[DllImport("user32.dll")] public static extern void mouse_event(uint f, uint x, uint y, uint d, int e);' -Name U32 -Namespace W; [W.U32]::mouse_event(%s, 0, 0, 0, 0)`, flag)
}

func mouseWheelScript(delta int) string {
	return fmt.Sprintf(`Add-Type -MemberDefinition '[DllImport("user32.dll")] public static extern void mouse_event(uint f, uint x, uint y, uint d, int e);' -Name U32 -Namespace W; [W.U32]::mouse_event(0x0800, 0, 0, %d, 0)`, delta)
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
