package instruments

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_table.yaml
var defaultTable []byte

type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModePollOnly Mode = "poll_only"
)

type Kind string

const (
	KindIndex  Kind = "index"
	KindFuture Kind = "future"
)

const (
	defaultStaleAfter  = 15 * time.Second
	defaultQuietWindow = 2 * time.Second
)

// Class is one row of the instrument-class table.
type Class struct {
	Mode         Mode          `yaml:"mode"`
	PollInterval time.Duration `yaml:"poll_interval"`
	QuietWindow  time.Duration `yaml:"quiet_window"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// Hybrid reports whether the stream is the primary source for this class.
func (c Class) Hybrid() bool {
	return c.Mode == ModeHybrid
}

type Entry struct {
	Name     string `yaml:"name"`
	Exchange string `yaml:"exchange"`
	Kind     Kind   `yaml:"kind"`
	Class    string `yaml:"class"`
}

type Table struct {
	Classes     map[string]Class `yaml:"classes"`
	Instruments []Entry          `yaml:"instruments"`
}

// DefaultTable returns the embedded table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultTable)
}

// LoadTable reads the table from path, or the embedded default when path is empty.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instrument table: %w", err)
	}
	return ParseTable(b)
}

func ParseTable(b []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse instrument table: %w", err)
	}

	for name, c := range t.Classes {
		switch c.Mode {
		case ModeHybrid:
			if c.QuietWindow <= 0 {
				c.QuietWindow = defaultQuietWindow
			}
		case ModePollOnly:
		default:
			return nil, fmt.Errorf("class %s: unknown mode %q", name, c.Mode)
		}
		if c.PollInterval <= 0 {
			return nil, fmt.Errorf("class %s: poll_interval must be positive", name)
		}
		if c.StaleAfter <= 0 {
			c.StaleAfter = defaultStaleAfter
		}
		t.Classes[name] = c
	}

	seen := make(map[string]bool, len(t.Instruments))
	for i, e := range t.Instruments {
		e.Name = strings.ToUpper(strings.TrimSpace(e.Name))
		e.Exchange = strings.ToUpper(strings.TrimSpace(e.Exchange))
		if e.Name == "" || e.Exchange == "" {
			return nil, fmt.Errorf("instrument #%d: name and exchange are required", i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("instrument %s listed twice", e.Name)
		}
		seen[e.Name] = true
		if _, ok := t.Classes[e.Class]; !ok {
			return nil, fmt.Errorf("instrument %s: unknown class %q", e.Name, e.Class)
		}
		if e.Kind == "" {
			e.Kind = KindIndex
		}
		if e.Kind != KindIndex && e.Kind != KindFuture {
			return nil, fmt.Errorf("instrument %s: unknown kind %q", e.Name, e.Kind)
		}
		t.Instruments[i] = e
	}
	return &t, nil
}

// Lookup returns the entry and class for a logical name.
func (t *Table) Lookup(name string) (Entry, Class, bool) {
	name = strings.ToUpper(name)
	for _, e := range t.Instruments {
		if e.Name == name {
			return e, t.Classes[e.Class], true
		}
	}
	return Entry{}, Class{}, false
}

// Names lists the tracked instruments in table order.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.Instruments))
	for _, e := range t.Instruments {
		out = append(out, e.Name)
	}
	return out
}
