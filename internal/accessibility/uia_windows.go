//go:build windows

// File: internal/accessibility/uia_windows.go
package accessibility

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// uiaBridge queries UI Automation through a short-lived PowerShell helper
// (the UIA client interfaces are not reachable through late-bound COM), and
// uses WMI over COM directly for process-level lookups.
type uiaBridge struct {
	cfg    config.AccessibilityConfig
	logger *zap.Logger

	runPowershell func(ctx context.Context, script string) (string, error)
}

func newPlatformBridge(cfg config.AccessibilityConfig, logger *zap.Logger) bridge {
	return &uiaBridge{cfg: cfg, logger: logger, runPowershell: runPowershell}
}

func runPowershell(ctx context.Context, script string) (string, error) {
	out, err := exec.CommandContext(ctx,
		"powershell", "-NoProfile", "-NonInteractive", "-Command", script).Output()
	if err != nil {
		return "", fmt.Errorf("powershell: %w", err)
	}
	return string(out), nil
}

func (b *uiaBridge) Platform() string { return "windows/uia" }
func (b *uiaBridge) CanInvoke() bool  { return true }

// uiaListScript walks the automation tree of every top-level window whose
// process name matches, emitting one tab-separated line per control.
const uiaListScript = `
Add-Type -AssemblyName UIAutomationClient, UIAutomationTypes
$needle = %q
$root = [System.Windows.Automation.AutomationElement]::RootElement
$cond = [System.Windows.Automation.Condition]::TrueCondition
foreach ($win in $root.FindAll([System.Windows.Automation.TreeScope]::Children, $cond)) {
  $procId = $win.Current.ProcessId
  $proc = Get-Process -Id $procId -ErrorAction SilentlyContinue
  if ($null -eq $proc) { continue }
  if (-not $proc.ProcessName.ToLower().Contains($needle.ToLower())) { continue }
  foreach ($el in $win.FindAll([System.Windows.Automation.TreeScope]::Descendants, $cond)) {
    $c = $el.Current
    if (-not $c.IsKeyboardFocusable -and -not $c.IsEnabled) { continue }
    $r = $c.BoundingRectangle
    if ([double]::IsInfinity($r.X)) { continue }
    $en = if ($c.IsEnabled) { 1 } else { 0 }
    "{0}` + "`t" + `{1}` + "`t" + `{2}` + "`t" + `{3}` + "`t" + `{4}` + "`t" + `{5}` + "`t" + `{6}` + "`t" + `{7}" -f $proc.ProcessName, $c.ControlType.ProgrammaticName, $c.Name, [int]$r.X, [int]$r.Y, [int]$r.Width, [int]$r.Height, $en
  }
}`

func (b *uiaBridge) Elements(ctx context.Context, app string) ([]rawElement, error) {
	out, err := b.runPowershell(ctx, fmt.Sprintf(uiaListScript, app))
	if err != nil {
		return nil, err
	}
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
			Role:    strings.TrimPrefix(fields[1], "ControlType."),
			Title:   fields[2],
			X:       x,
			Y:       y,
			W:       w,
			H:       h,
			Enabled: fields[7] == "1",
		})
	}
	return elements, nil
}

const uiaInvokeScript = `
Add-Type -AssemblyName UIAutomationClient, UIAutomationTypes
$needle = %q
$title = %q
$root = [System.Windows.Automation.AutomationElement]::RootElement
$cond = [System.Windows.Automation.Condition]::TrueCondition
foreach ($win in $root.FindAll([System.Windows.Automation.TreeScope]::Children, $cond)) {
  $proc = Get-Process -Id $win.Current.ProcessId -ErrorAction SilentlyContinue
  if ($null -eq $proc) { continue }
  if (-not $proc.ProcessName.ToLower().Contains($needle.ToLower())) { continue }
  $nameCond = New-Object System.Windows.Automation.PropertyCondition([System.Windows.Automation.AutomationElement]::NameProperty, $title)
  $el = $win.FindFirst([System.Windows.Automation.TreeScope]::Descendants, $nameCond)
  if ($null -ne $el) {
    $pattern = $el.GetCurrentPattern([System.Windows.Automation.InvokePattern]::Pattern)
    $pattern.Invoke()
    "ok"
    exit
  }
}
"miss"`

func (b *uiaBridge) Invoke(ctx context.Context, app, title string) (bool, error) {
	out, err := b.runPowershell(ctx, fmt.Sprintf(uiaInvokeScript, app, title))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "ok", nil
}

func (b *uiaBridge) Frontmost(ctx context.Context) (string, error) {
	out, err := b.runPowershell(ctx, `
Add-Type @"
using System;
using System.Runtime.InteropServices;
public class FG {
  [DllImport("user32.dll")] public static extern IntPtr GetForegroundWindow();
  [DllImport("user32.dll")] public static extern uint GetWindowThreadProcessId(IntPtr h, out uint pid);
}
"@
$h = [FG]::GetForegroundWindow()
$procId = 0
[void][FG]::GetWindowThreadProcessId($h, [ref]$procId)
(Get-Process -Id $procId).ProcessName`)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Running enumerates processes with a visible window through WMI.
func (b *uiaBridge) Running(ctx context.Context) ([]string, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		oleErr, ok := err.(*ole.OleError)
		if !ok || (oleErr.Code() != uintptr(ole.S_OK) && oleErr.Code() != 1) { // S_FALSE means already initialized
			return nil, fmt.Errorf("CoInitializeEx: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, fmt.Errorf("SWbemLocator: %w", err)
	}
	defer unknown.Release()

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, err
	}
	defer locator.Release()

	service, err := oleutil.CallMethod(locator, "ConnectServer")
	if err != nil {
		return nil, fmt.Errorf("ConnectServer: %w", err)
	}
	defer service.Clear()

	result, err := oleutil.CallMethod(service.ToIDispatch(), "ExecQuery",
		"SELECT Name FROM Win32_Process WHERE SessionId != 0")
	if err != nil {
		return nil, fmt.Errorf("ExecQuery: %w", err)
	}
	defer result.Clear()

	seen := make(map[string]struct{})
	var apps []string
	err = oleutil.ForEach(result.ToIDispatch(), func(v *ole.VARIANT) error {
		item := v.ToIDispatch()
		defer item.Release()
		nameVar, err := oleutil.GetProperty(item, "Name")
		if err != nil {
			return nil
		}
		defer nameVar.Clear()
		name := strings.TrimSuffix(nameVar.ToString(), ".exe")
		if name == "" {
			return nil
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			apps = append(apps, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return apps, nil
}
