package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorid/anchorid-go/internal/logging"
)

func sampleSnapshot() *ViewSnapshot {
	return &ViewSnapshot{
		Root: ViewNode{
			Type: "screen",
			Children: []ViewNode{
				{Type: "label", Text: "Welcome back"},
				{Type: "button", Text: "Sign in", Accessibility: map[string]string{"id": "signin_button"}},
			},
		},
		Texts: []string{"Welcome back", "Sign in"},
	}
}

func TestLookupPath(t *testing.T) {
	scope, err := NewScopeContext(sampleSnapshot(), "2.0.0", nil)
	require.NoError(t, err)

	cases := []struct {
		path    string
		want    any
		present bool
	}{
		{"root.type", "screen", true},
		{"root.children[0].text", "Welcome back", true},
		{"root.children[1].accessibility.id", "signin_button", true},
		{"texts[1]", "Sign in", true},
		{"root.children[5].text", nil, false},
		{"root.missing", nil, false},
		{"root.children[0].text.deeper", nil, false},
	}
	for _, tc := range cases {
		got, present := lookupPath(scope.tree, tc.path)
		assert.Equal(t, tc.present, present, tc.path)
		if tc.present {
			assert.Equal(t, tc.want, got, tc.path)
		}
	}
}

func TestScopeEvaluate(t *testing.T) {
	scope, err := NewScopeContext(sampleSnapshot(), "2.0.0", nil)
	require.NoError(t, err)
	ctx := context.Background()
	log := logging.NewNop()

	assert.True(t, scope.Evaluate(ctx, leaf(EntityScope, "root.children[0].text", CondEquals, "Welcome back"), log))
	assert.True(t, scope.Evaluate(ctx, leaf(EntityScope, "root.children[1].text", CondContains, "Sign"), log))
	assert.True(t, scope.Evaluate(ctx, leaf(EntityScope, "root.children[1].accessibility.id", CondExists, nil), log))
	assert.True(t, scope.Evaluate(ctx, leaf(EntityScope, "root.banner", CondNotExists, nil), log))
	assert.False(t, scope.Evaluate(ctx, leaf(EntityScope, "root.banner", CondEquals, "x"), log))
}

func TestScopeEvaluateRejectsOrderedConditions(t *testing.T) {
	scope, err := NewScopeContext(sampleSnapshot(), "2.0.0", nil)
	require.NoError(t, err)

	rule := leaf(EntityScope, "root.children[0].text", CondGreaterThan, "1")
	assert.False(t, scope.Evaluate(context.Background(), rule, logging.NewNop()))
}

func TestScopeEvaluateWithPageRoot(t *testing.T) {
	page := &Page{
		Name: "home",
		Captures: []Capture{
			{AppVersion: "1.0.0", Root: "root"},
		},
	}
	scope, err := NewScopeContext(sampleSnapshot(), "2.0.0", page)
	require.NoError(t, err)

	// Attribute resolves relative to the capture root.
	rule := leaf(EntityScope, "children[1].text", CondEquals, "Sign in")
	assert.True(t, scope.Evaluate(context.Background(), rule, logging.NewNop()))
}

func TestCaptureFor(t *testing.T) {
	page := &Page{
		Name: "home",
		Captures: []Capture{
			{AppVersion: "1.0.0", Root: "v1"},
			{AppVersion: "2.0.0", Root: "v2"},
			{AppVersion: "3.0.0", Root: "v3"},
		},
	}

	assert.Equal(t, "v2", page.CaptureFor("2.5.0").Root)
	assert.Equal(t, "v2", page.CaptureFor("2.0.0").Root)
	assert.Equal(t, "v3", page.CaptureFor("10.0.0").Root)
	assert.Nil(t, page.CaptureFor("0.9.0"))
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.1", "1.0", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, compareVersions(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}
