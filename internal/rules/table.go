package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/Leonid-DD/Chess2/internal/board"
)

//go:embed rules.yaml
var defaultFiles embed.FS

// MaxRange is the longest ray on an 8x8 board.
const MaxRange = board.Size - 1

// KnightFamilies is the number of knight jump families.
const KnightFamilies = 4

// Reach is one archetype's contribution to a kind.
type Reach struct {
	Range       int  `yaml:"range"`
	CaptureOnly bool `yaml:"capture_only"`
}

// Entry is the contribution pair of a composite kind.
type Entry struct {
	Primary   Reach `yaml:"primary"`
	Secondary Reach `yaml:"secondary"`
}

type document struct {
	Composites map[string]Entry `yaml:"composites"`
}

// Contribution binds an archetype to the reach it is granted.
type Contribution struct {
	Archetype board.Archetype
	Reach     Reach
}

// Classic is the reach of an archetype moving under classical rules.
func Classic(a board.Archetype) Reach {
	switch a {
	case board.Pawn, board.King:
		return Reach{Range: 1}
	case board.Knight:
		return Reach{Range: KnightFamilies}
	default:
		return Reach{Range: MaxRange}
	}
}

// Table maps composite kinds to their contributions. Safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries map[board.Kind]Entry
}

// Default returns the embedded table.
func Default() (*Table, error) { return Load("") }

// Load reads the embedded table and applies override files (*.yaml, *.yml)
// from overrideDir, in name order. A key defined by two override files is an error.
func Load(overrideDir string) (*Table, error) {
	t := &Table{entries: make(map[board.Kind]Entry)}
	raw, err := fs.ReadFile(defaultFiles, "rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded rules: %w", err)
	}
	parsed, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("embedded rules: %w", err)
	}
	t.apply(parsed)
	if strings.TrimSpace(overrideDir) != "" {
		if err := t.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustDefault panics when the embedded table is broken.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic("rules: " + err.Error())
	}
	return t
}

func (t *Table) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read rules dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	seen := make(map[board.Kind]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		parsed, err := parse(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range parsed {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		t.apply(parsed)
	}
	return nil
}

func parse(b []byte) (map[board.Kind]Entry, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	out := make(map[board.Kind]Entry, len(doc.Composites))
	for name, e := range doc.Composites {
		k, err := board.ParseKind(name)
		if err != nil {
			return nil, err
		}
		if !k.IsComposite() {
			return nil, fmt.Errorf("%s: archetypes are not configurable", name)
		}
		if err := validReach(k.Primary, e.Primary); err != nil {
			return nil, fmt.Errorf("%s primary: %w", name, err)
		}
		if err := validReach(k.Secondary, e.Secondary); err != nil {
			return nil, fmt.Errorf("%s secondary: %w", name, err)
		}
		out[k] = e
	}
	return out, nil
}

func validReach(a board.Archetype, r Reach) error {
	limit := MaxRange
	if a == board.Knight {
		limit = KnightFamilies
	}
	if r.Range < 1 || r.Range > limit {
		return fmt.Errorf("range %d outside 1..%d", r.Range, limit)
	}
	if r.CaptureOnly && a != board.Knight {
		return fmt.Errorf("capture_only applies to KNIGHT only")
	}
	return nil
}

func (t *Table) apply(m map[board.Kind]Entry) {
	t.mu.Lock()
	for k, e := range m {
		t.entries[k] = e
	}
	t.mu.Unlock()
}

// Lookup returns the entry for a composite kind.
func (t *Table) Lookup(k board.Kind) (Entry, bool) {
	t.mu.RLock()
	e, ok := t.entries[k]
	t.mu.RUnlock()
	return e, ok
}

// Contributions resolves a kind to the archetype reaches it moves with.
// Archetype kinds use classical reach; unknown composites contribute nothing.
func (t *Table) Contributions(k board.Kind) []Contribution {
	if !k.IsComposite() {
		return []Contribution{{Archetype: k.Primary, Reach: Classic(k.Primary)}}
	}
	e, ok := t.Lookup(k)
	if !ok {
		return nil
	}
	return []Contribution{
		{Archetype: k.Primary, Reach: e.Primary},
		{Archetype: k.Secondary, Reach: e.Secondary},
	}
}

// Composites lists configured composite kinds sorted by name.
func (t *Table) Composites() []board.Kind {
	t.mu.RLock()
	out := make([]board.Kind, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
