package automation

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/anchorid/anchorid-go/internal/logging"
)

// ViewNode is one node of the UI hierarchy snapshot provided by the host.
type ViewNode struct {
	Type          string            `json:"type"`
	Accessibility map[string]string `json:"accessibility,omitempty"`
	Text          string            `json:"text,omitempty"`
	Children      []ViewNode        `json:"children,omitempty"`
}

// ViewSnapshot is a point-in-time capture of the visible UI: the node tree
// plus a flat list of extracted texts.
type ViewSnapshot struct {
	Root  ViewNode `json:"root"`
	Texts []string `json:"texts,omitempty"`
}

// UISource supplies UI snapshots for scope-rule evaluation. Implemented by
// the host application's UI layer.
type UISource interface {
	Snapshot(ctx context.Context) (*ViewSnapshot, error)
}

// Capture anchors scope queries for one app version: queries resolve
// relative to Root inside the serialized snapshot.
type Capture struct {
	AppVersion string `json:"app_version"`
	Root       string `json:"root,omitempty"`
}

// Page defines version-tagged captures for one screen.
type Page struct {
	Name     string    `json:"name"`
	Captures []Capture `json:"captures"`
}

// CaptureFor returns the capture with the highest app version not exceeding
// the running version, or nil when none qualifies.
func (p *Page) CaptureFor(version string) *Capture {
	candidates := make([]Capture, 0, len(p.Captures))
	for _, c := range p.Captures {
		if compareVersions(c.AppVersion, version) <= 0 {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return compareVersions(candidates[i].AppVersion, candidates[j].AppVersion) > 0
	})
	return &candidates[0]
}

// ScopeContext is the evaluation context for scope-entity leaves: the
// serialized UI snapshot plus the resolved page definition.
type ScopeContext struct {
	tree    map[string]any
	version string
	page    *Page
}

// NewScopeContext serializes the snapshot into a generic tree queryable by
// dot-path expressions.
func NewScopeContext(snap *ViewSnapshot, version string, page *Page) (*ScopeContext, error) {
	data, err := sonic.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := sonic.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return &ScopeContext{tree: tree, version: version, page: page}, nil
}

// Evaluate applies a scope leaf against the snapshot tree. Only the
// equality, containment and existence operators apply to scope values;
// anything else is false.
func (s *ScopeContext) Evaluate(_ context.Context, rule Rule, log *logging.Logger) bool {
	path := rule.Attribute
	if s.page != nil {
		if capture := s.page.CaptureFor(s.version); capture != nil && capture.Root != "" {
			path = capture.Root + "." + path
		}
	}

	fragment, present := lookupPath(s.tree, path)

	switch rule.Condition {
	case CondExists:
		return present
	case CondNotExists:
		return !present
	}
	if !present {
		return false
	}

	have := Stringify(fragment)
	want := Stringify(rule.Value)

	switch rule.Condition {
	case CondEquals:
		return have == want
	case CondNotEquals:
		return have != want
	case CondContains:
		return strings.Contains(have, want)
	case CondNotContains:
		return !strings.Contains(have, want)
	default:
		log.Warn("condition not applicable to scope rules",
			zap.String("condition", string(rule.Condition)),
			zap.String("attribute", rule.Attribute))
		return false
	}
}

var indexSuffix = regexp.MustCompile(`^([^\[\]]*)((\[\d+\])*)$`)

// lookupPath resolves a dot-path with optional [n] index suffixes against a
// generic JSON tree, e.g. "root.children[0].text".
func lookupPath(tree map[string]any, path string) (any, bool) {
	var cur any = tree
	for _, segment := range strings.Split(path, ".") {
		m := indexSuffix.FindStringSubmatch(segment)
		if m == nil {
			return nil, false
		}
		key, indexes := m[1], m[2]

		if key != "" {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = obj[key]
			if !ok {
				return nil, false
			}
		}

		for _, idx := range strings.Split(strings.Trim(indexes, "[]"), "][") {
			if idx == "" {
				continue
			}
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			i, err := strconv.Atoi(idx)
			if err != nil || i < 0 || i >= len(arr) {
				return nil, false
			}
			cur = arr[i]
		}
	}
	return cur, true
}

// compareVersions compares dotted numeric versions segment-wise. Missing
// segments count as zero; non-numeric segments compare lexically.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr != nil || berr != nil {
			if av != bv {
				return strings.Compare(av, bv)
			}
			continue
		}
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	return 0
}
