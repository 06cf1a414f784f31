// File: internal/screen/capture.go

// Package screen produces timestamped raster images of the display or a
// named window. Capture is by window identity, never by sampling a screen
// region, so occluded windows still yield their true content where the
// platform supports it.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/skua-labs/deskpilot/internal/config"
)

// Frame is one captured raster image. Frames are transient; they are produced
// fresh per capture and never cached across loop iterations.
type Frame struct {
	Image   *image.RGBA
	TakenAt time.Time
	// Display identifies the source: a window id, or "" for the full screen.
	Display string
}

// Width returns the pixel width of the frame.
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the pixel height of the frame.
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// Capturer acquires a frame of the full screen or a named window.
type Capturer interface {
	// Capture grabs the current screen content. windowID "" captures the
	// full screen; otherwise the identified window is captured even when
	// occluded.
	Capture(ctx context.Context, windowID string) (*Frame, error)
}

// ExecCapturer shells out to the platform screenshot utility. The command is
// selected once at construction based on the runtime platform.
type ExecCapturer struct {
	cfg    config.ScreenConfig
	logger *zap.Logger
	goos   string

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExecCapturer builds the default capturer for the current platform.
func NewExecCapturer(cfg config.ScreenConfig, logger *zap.Logger) *ExecCapturer {
	return &ExecCapturer{
		cfg:    cfg,
		logger: logger.Named("screen"),
		goos:   runtime.GOOS,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Capture implements Capturer.
func (c *ExecCapturer) Capture(ctx context.Context, windowID string) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	name, args, err := c.commandFor(windowID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := c.runCommand(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("screen capture via %s failed: %w", name, err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("failed to decode captured image: %w", err)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}

	c.logger.Debug("Captured frame",
		zap.String("window", windowID),
		zap.Int("width", rgba.Bounds().Dx()),
		zap.Int("height", rgba.Bounds().Dy()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Frame{Image: rgba, TakenAt: time.Now(), Display: windowID}, nil
}

// commandFor returns the platform screenshot command writing PNG to stdout.
func (c *ExecCapturer) commandFor(windowID string) (string, []string, error) {
	switch c.goos {
	case "darwin":
		args := []string{"-x", "-t", "png"}
		if windowID != "" {
			args = append(args, "-l", windowID)
		}
		// /dev/stdout keeps the capture in-memory.
		args = append(args, "/dev/stdout")
		return "screencapture", args, nil
	case "linux":
		if windowID != "" {
			return "import", []string{"-silent", "-window", windowID, "png:-"}, nil
		}
		return "import", []string{"-silent", "-window", "root", "png:-"}, nil
	case "windows":
		// No windowID support; full-screen only on this path.
		script := `Add-Type -AssemblyName System.Windows.Forms,System.Drawing;` +
			`$b=[System.Windows.Forms.SystemInformation]::VirtualScreen;` +
			`$bmp=New-Object Drawing.Bitmap $b.Width,$b.Height;` +
			`$g=[Drawing.Graphics]::FromImage($bmp);` +
			`$g.CopyFromScreen($b.Location,[Drawing.Point]::Empty,$b.Size);` +
			`$ms=New-Object IO.MemoryStream;` +
			`$bmp.Save($ms,[Drawing.Imaging.ImageFormat]::Png);` +
			`[Console]::OpenStandardOutput().Write($ms.ToArray(),0,$ms.Length)`
		return "powershell", []string{"-NoProfile", "-Command", script}, nil
	default:
		return "", nil, fmt.Errorf("no screen capture backend for platform %q", c.goos)
	}
}

// Downscale returns a copy of the frame scaled so that its longest side does
// not exceed maxDim. Frames already within the limit are returned unchanged.
// Used to keep oracle payloads inside model input limits.
func Downscale(f *Frame, maxDim int) (*Frame, float64) {
	b := f.Image.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return f, 1.0
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), f.Image, b, xdraw.Over, nil)

	return &Frame{Image: dst, TakenAt: f.TakenAt, Display: f.Display}, scale
}

// EncodePNG serializes the frame for transport to external services.
func EncodePNG(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
