// Package knowledge holds the immutable catalogue of pre-authored entries and
// the machinery to reload it without restarting the process.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

//go:embed default_catalogue.yaml
var defaultCatalogue []byte

var (
	// ErrInvalidCatalogue is returned when catalogue data fails validation.
	ErrInvalidCatalogue = errors.New("invalid catalogue")

	// ErrEntryNotFound is returned by lookups for unknown entry ids.
	ErrEntryNotFound = errors.New("entry not found")
)

// File is the authored catalogue document. JSON is accepted as well since
// the YAML parser reads it.
type File struct {
	Version int `koanf:"version"`
	// Markers lists, per topic, words an utterance must contain for keyword
	// matches on that topic's entries to count fully.
	Markers map[string][]string `koanf:"markers"`
	Entries []Entry             `koanf:"entries"`
}

// Catalogue is an immutable set of entries indexed by id and topic.
type Catalogue struct {
	version int
	entries []*Entry
	byID    map[string]*Entry
	byTopic map[string][]*Entry
	markers map[string]textutil.PatternList
}

// Parse decodes and builds a catalogue from YAML or JSON data.
func Parse(data []byte) (*Catalogue, error) {
	k := koanf.New("::")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("decoding catalogue: %w", err)
	}
	var f File
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("unmarshal catalogue: %w", err)
	}
	return New(f)
}

// Load reads the catalogue at path. An empty path returns the built-in
// sample catalogue.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalogue %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalogue %s: %w", path, err)
	}
	return c, nil
}

var parseDefault = sync.OnceValues(func() (*Catalogue, error) {
	return Parse(defaultCatalogue)
})

// Default returns the built-in sample catalogue.
func Default() (*Catalogue, error) {
	return parseDefault()
}

// New validates f and builds its indexes. Entries are copied.
func New(f File) (*Catalogue, error) {
	if f.Version < 1 {
		return nil, fmt.Errorf("%w: version must be >= 1", ErrInvalidCatalogue)
	}
	c := &Catalogue{
		version: f.Version,
		entries: make([]*Entry, 0, len(f.Entries)),
		byID:    make(map[string]*Entry, len(f.Entries)),
		byTopic: make(map[string][]*Entry),
		markers: make(map[string]textutil.PatternList, len(f.Markers)),
	}
	for i := range f.Entries {
		e := f.Entries[i]
		switch {
		case e.ID == "":
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidCatalogue, i)
		case e.Topic == "":
			return nil, fmt.Errorf("%w: entry %q has no topic", ErrInvalidCatalogue, e.ID)
		case len(e.Questions) == 0 && len(e.Keywords) == 0:
			return nil, fmt.Errorf("%w: entry %q has neither questions nor keywords", ErrInvalidCatalogue, e.ID)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrInvalidCatalogue, e.ID)
		}
		e.compile()
		c.entries = append(c.entries, &e)
		c.byID[e.ID] = &e
		c.byTopic[e.Topic] = append(c.byTopic[e.Topic], &e)
	}
	for topic, words := range f.Markers {
		if list := textutil.Patterns(words); len(list) > 0 {
			c.markers[topic] = list
		}
	}
	return c, nil
}

// Version is the authored catalogue version.
func (c *Catalogue) Version() int { return c.version }

// Len returns the number of entries.
func (c *Catalogue) Len() int { return len(c.entries) }

// Entries returns all entries in authored order. Callers must not modify them.
func (c *Catalogue) Entries() []*Entry { return c.entries }

// Entry looks up an entry by id.
func (c *Catalogue) Entry(id string) (*Entry, error) {
	e, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e, nil
}

// ForTopic returns the entries mapped to topic, the intent index.
func (c *Catalogue) ForTopic(topic string) []*Entry { return c.byTopic[topic] }

// Markers returns the marker words required by topic, if any.
func (c *Catalogue) Markers(topic string) textutil.PatternList { return c.markers[topic] }

// Topics returns the distinct entry topics, sorted.
func (c *Catalogue) Topics() []string {
	out := make([]string, 0, len(c.byTopic))
	for t := range c.byTopic {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
