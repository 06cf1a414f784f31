// File: internal/vision/tesseract.go
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// minWordConfidence drops recognition noise; tesseract reports junk tokens
// with very low confidence rather than omitting them.
const minWordConfidence = 0.5

// tesseractEngine shells out to the tesseract binary in TSV mode, feeding the
// frame as PNG on stdin. One process per frame keeps memory bounded and
// sidesteps cgo.
type tesseractEngine struct {
	logger *zap.Logger

	binary     string
	runCommand func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
	lookPath   func(file string) (string, error)
}

func newTesseractEngine(logger *zap.Logger) *tesseractEngine {
	return &tesseractEngine{
		logger:   logger.Named("ocr"),
		binary:   "tesseract",
		lookPath: exec.LookPath,
		runCommand: func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdin = bytes.NewReader(stdin)
			return cmd.Output()
		},
	}
}

func (e *tesseractEngine) Name() string { return "tesseract" }

func (e *tesseractEngine) Available() bool {
	_, err := e.lookPath(e.binary)
	return err == nil
}

func (e *tesseractEngine) Recognize(ctx context.Context, img image.Image) ([]Word, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	out, err := e.runCommand(ctx, buf.Bytes(), e.binary, "stdin", "stdout", "--psm", "11", "tsv")
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}

	words := parseTSV(string(out))
	e.logger.Debug("OCR pass complete", zap.Int("words", len(words)))
	return words, nil
}

// parseTSV reads tesseract's TSV output. Relevant columns: level(0),
// left(6), top(7), width(8), height(9), conf(10), text(11). Word rows carry
// level 5; everything else is layout structure.
func parseTSV(out string) []Word {
	var words []Word
	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		left, err1 := strconv.Atoi(cols[6])
		top, err2 := strconv.Atoi(cols[7])
		width, err3 := strconv.Atoi(cols[8])
		height, err4 := strconv.Atoi(cols[9])
		conf, err5 := strconv.ParseFloat(cols[10], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		confidence := conf / 100.0
		if confidence < minWordConfidence {
			continue
		}
		words = append(words, Word{
			Text:       text,
			Bounds:     image.Rect(left, top, left+width, top+height),
			Confidence: confidence,
		})
	}
	return words
}
