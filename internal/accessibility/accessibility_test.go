// File: internal/accessibility/accessibility_test.go
package accessibility

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// fakeBridge is a scriptable bridge recording every call.
type fakeBridge struct {
	elements    []rawElement
	elementsErr error
	panicOnList bool

	invokeOK  bool
	invokeErr error

	frontmost string
	running   []string

	listCalls   int
	invokeCalls int
	lastApp     string
	lastTitle   string
}

func (f *fakeBridge) Platform() string { return "fake" }
func (f *fakeBridge) CanInvoke() bool  { return true }

func (f *fakeBridge) Elements(_ context.Context, app string) ([]rawElement, error) {
	f.listCalls++
	f.lastApp = app
	if f.panicOnList {
		panic("native binding exploded")
	}
	return f.elements, f.elementsErr
}

func (f *fakeBridge) Invoke(_ context.Context, app, title string) (bool, error) {
	f.invokeCalls++
	f.lastApp, f.lastTitle = app, title
	return f.invokeOK, f.invokeErr
}

func (f *fakeBridge) Frontmost(context.Context) (string, error) { return f.frontmost, nil }
func (f *fakeBridge) Running(context.Context) ([]string, error) { return f.running, nil }

func testConfig() config.AccessibilityConfig {
	return config.AccessibilityConfig{
		QueryTimeout: 800 * time.Millisecond,
		MaxDepth:     25,
	}
}

func newTestAdapter(t *testing.T, b bridge) Adapter {
	t.Helper()
	return NewWithBridge(testConfig(), zap.NewNop(), b)
}

func TestFindElementsNormalizesCenters(t *testing.T) {
	fake := &fakeBridge{elements: []rawElement{
		{App: "TextEdit", Role: "button", Title: "Save", X: 100, Y: 60, W: 40, H: 40, Enabled: true},
	}}
	adapter := newTestAdapter(t, fake)

	elements, err := adapter.FindElements(context.Background(), Query{App: "TextEdit"})
	require.NoError(t, err)
	require.Len(t, elements, 1)

	assert.Equal(t, image.Point{X: 120, Y: 80}, elements[0].Center)
	assert.Equal(t, "Save", elements[0].Title)
	assert.True(t, elements[0].Enabled)
	assert.Equal(t, "TextEdit", fake.lastApp)
}

func TestFindElementsFiltersRoleAndTitle(t *testing.T) {
	fake := &fakeBridge{elements: []rawElement{
		{App: "App", Role: "button", Title: "Save", X: 0, Y: 0, W: 10, H: 10, Enabled: true},
		{App: "App", Role: "button", Title: "Cancel", X: 0, Y: 20, W: 10, H: 10, Enabled: true},
		{App: "App", Role: "entry", Title: "Save path", X: 0, Y: 40, W: 10, H: 10, Enabled: true},
	}}
	adapter := newTestAdapter(t, fake)

	elements, err := adapter.FindElements(context.Background(), Query{App: "App", Role: "BUTTON", Title: "save"})
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "Save", elements[0].Title)

	elements, err = adapter.FindElements(context.Background(), Query{App: "App", Title: "save"})
	require.NoError(t, err)
	assert.Len(t, elements, 2, "title filter alone is a substring match")
}

func TestFindElementsAbsorbsBridgeError(t *testing.T) {
	fake := &fakeBridge{elementsErr: errors.New("bus gone")}
	adapter := newTestAdapter(t, fake)

	elements, err := adapter.FindElements(context.Background(), Query{App: "App"})
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestFindElementsAbsorbsBridgePanic(t *testing.T) {
	fake := &fakeBridge{panicOnList: true}
	adapter := newTestAdapter(t, fake)

	elements, err := adapter.FindElements(context.Background(), Query{App: "App"})
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestFindElementsHonorsCancelledContext(t *testing.T) {
	fake := &fakeBridge{}
	adapter := newTestAdapter(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.FindElements(ctx, Query{App: "App"})
	require.Error(t, err)
	assert.Zero(t, fake.listCalls, "bridge must not be queried after cancellation")
}

func TestInvokeDefaultAction(t *testing.T) {
	fake := &fakeBridge{invokeOK: true}
	adapter := newTestAdapter(t, fake)

	ok, err := adapter.InvokeDefaultAction(context.Background(), "TextEdit", "Save")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, fake.invokeCalls)
	assert.Equal(t, "Save", fake.lastTitle)
}

func TestInvokeDefaultActionAbsorbsFailure(t *testing.T) {
	fake := &fakeBridge{invokeErr: errors.New("element vanished")}
	adapter := newTestAdapter(t, fake)

	ok, err := adapter.InvokeDefaultAction(context.Background(), "TextEdit", "Save")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObservationHelpers(t *testing.T) {
	fake := &fakeBridge{
		frontmost: "TextEdit",
		running:   []string{"Finder", "TextEdit", "Terminal"},
	}
	adapter := newTestAdapter(t, fake)

	assert.Equal(t, "TextEdit", adapter.FrontmostApp(context.Background()))
	assert.Equal(t, []string{"Finder", "TextEdit", "Terminal"}, adapter.RunningApps(context.Background()))
}

func TestMatchesApp(t *testing.T) {
	assert.True(t, MatchesApp("org.gnome.TextEditor", "texteditor"))
	assert.True(t, MatchesApp("TextEdit", "textedit"))
	assert.True(t, MatchesApp("Edit", "TextEdit"))
	assert.False(t, MatchesApp("Finder", "TextEdit"))
	assert.False(t, MatchesApp("", "TextEdit"))
}
