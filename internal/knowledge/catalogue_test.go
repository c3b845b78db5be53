package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/transitd/internal/rules"
	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

const sampleYAML = `
version: 2
markers:
  senalizacion: ["senal*|prohibido"]
entries:
  - id: a
    topic: documentacion
    questions: ["¿Cómo renuevo la licencia?"]
    keywords: [Licencia, renovación]
  - id: b
    topic: senalizacion
    questions: ["parquear en zona prohibida"]
    keywords: [parquear]
    exclusions: ["licencia*"]
`

func TestDefault_Valid(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c.Version(), 1)
	assert.Greater(t, c.Len(), 10)

	// Every entry topic is one the rule set can route to.
	set := rules.Default()
	for _, topic := range c.Topics() {
		_, ok := set.Topic(topic)
		assert.True(t, ok, "unknown topic %q", topic)
	}
	assert.NotEmpty(t, c.Markers("senalizacion"))
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Version())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"documentacion", "senalizacion"}, c.Topics())

	a, err := c.Entry("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"licencia", "renovacion"}, a.NormalizedKeywords())
	assert.Equal(t, [][]string{{"renuevo", "licencia"}}, a.QuestionWords())

	b, err := c.Entry("b")
	require.NoError(t, err)
	assert.True(t, b.Excluded(textutil.Tokens(textutil.Normalize("se me venció la licencia"))))
	assert.False(t, b.Excluded(textutil.Tokens(textutil.Normalize("parquear en la calle"))))

	assert.Len(t, c.ForTopic("documentacion"), 1)
	assert.Empty(t, c.ForTopic("grua"))
	assert.Len(t, c.Markers("senalizacion"), 1)
	assert.Empty(t, c.Markers("documentacion"))

	_, err = c.Entry("zzz")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestParse_JSON(t *testing.T) {
	data := `{"version": 1, "entries": [{"id": "x", "topic": "grua", "keywords": ["grua"], "answer": "ok"}]}`
	c, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"no version", File{Entries: []Entry{{ID: "a", Topic: "t", Keywords: []string{"k"}}}}},
		{"no id", File{Version: 1, Entries: []Entry{{Topic: "t", Keywords: []string{"k"}}}}},
		{"no topic", File{Version: 1, Entries: []Entry{{ID: "a", Keywords: []string{"k"}}}}},
		{"nothing to match", File{Version: 1, Entries: []Entry{{ID: "a", Topic: "t"}}}},
		{"duplicate", File{Version: 1, Entries: []Entry{
			{ID: "a", Topic: "t", Keywords: []string{"k"}},
			{ID: "a", Topic: "u", Keywords: []string{"k"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.file)
			assert.ErrorIs(t, err, ErrInvalidCatalogue)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	def, _ := Default()
	assert.Same(t, def, c)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHolder_ReloadKeepsCurrentOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	first, err := Load(path)
	require.NoError(t, err)
	h := NewHolder(first)

	require.NoError(t, os.WriteFile(path, []byte("version: 0\n"), 0o600))
	_, err = h.Reload(path)
	assert.Error(t, err)
	assert.Same(t, first, h.Catalogue())

	require.NoError(t, os.WriteFile(path, []byte("version: 5\nentries: []\n"), 0o600))
	next, err := h.Reload(path)
	require.NoError(t, err)
	assert.Same(t, next, h.Catalogue())
	assert.Equal(t, 5, h.Catalogue().Version())
}

func TestWatcher_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)
	h := NewHolder(initial)

	var reloads atomic.Int32
	w, err := NewWatcher(path, h, nil,
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(*Catalogue) { reloads.Add(1) }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("version: 3\nentries: []\n"), 0o600))
	assert.Eventually(t, func() bool {
		return h.Catalogue().Version() == 3
	}, 3*time.Second, 20*time.Millisecond)

	// An invalid rewrite leaves the catalogue in place.
	before := reloads.Load()
	require.NoError(t, os.WriteFile(path, []byte("version: [\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 3, h.Catalogue().Version())
	assert.Equal(t, before, reloads.Load())

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("version: 9\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, h.Catalogue().Version())
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	w, err := NewWatcher(path, NewHolder(nil), nil)
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}
