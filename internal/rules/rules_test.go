package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

func TestDefault_Compiles(t *testing.T) {
	s := Default()
	require.NotNil(t, s)
	assert.Same(t, s, Default())

	assert.NotEmpty(t, s.OffTopic)
	assert.NotEmpty(t, s.DomainTerms)
	assert.NotEmpty(t, s.Social)
	assert.NotEmpty(t, s.Substantive)
	assert.NotEmpty(t, s.FollowUp)
	assert.NotEmpty(t, s.Correction)
	assert.NotEmpty(t, s.Negative)
	assert.NotEmpty(t, s.Positive)

	for _, id := range []string{"fuga_autoridad", "accidente", "embriaguez", "abuso_autoridad"} {
		assert.True(t, s.IsSafety(id), id)
	}
	assert.False(t, s.IsSafety("documentacion"))
	assert.False(t, s.IsSafety("nope"))
}

func TestDefault_TopicsWellFormed(t *testing.T) {
	s := Default()
	for i, topic := range s.Topics {
		t.Run(topic.ID, func(t *testing.T) {
			assert.Equal(t, i, topic.Order)
			assert.NotEqual(t, topic.ID, topic.Label, "every built-in topic carries a label")
			assert.True(t, Routable(topic.ID))

			got, ok := s.Topic(topic.ID)
			require.True(t, ok)
			assert.Same(t, topic, got)

			// The first alternative of each trigger, written out literally,
			// must match that trigger.
			for _, raw := range topic.Triggers {
				first := strings.Split(raw.String(), "|")[0]
				literal := strings.ReplaceAll(first, "*", "")
				assert.True(t, raw.Match(textutil.Tokens(textutil.Normalize(literal))), raw.String())
			}
		})
	}
}

func TestDefault_SafetyShape(t *testing.T) {
	for _, topic := range Default().Topics {
		if !topic.Safety {
			continue
		}
		assert.GreaterOrEqual(t, topic.Base, 0.7, topic.ID)
		assert.LessOrEqual(t, topic.Base, topic.Cap, topic.ID)
		assert.GreaterOrEqual(t, topic.Priority, 9, topic.ID)
	}
}

func TestSet_Label(t *testing.T) {
	s := Default()
	assert.Equal(t, "comparendos y multas", s.Label("comparendos"))
	assert.Equal(t, "desconocido", s.Label("desconocido"))
}

func TestRoutable(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"documentacion", true},
		{"fuga_autoridad", true},
		{TopicGeneral, false},
		{TopicSocial, false},
		{TopicOffTopic, false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Routable(tt.topic))
		})
	}
}

func TestFile_Validate(t *testing.T) {
	valid := func() File {
		return File{Topics: []TopicRule{{Topic: "multas", Priority: 5, Triggers: []string{"multa*"}}}}
	}

	tests := []struct {
		name   string
		mutate func(*File)
		errMsg string
	}{
		{"valid", func(*File) {}, ""},
		{"no topics", func(f *File) { f.Topics = nil }, "no topics"},
		{"missing id", func(f *File) { f.Topics[0].Topic = "" }, "has no id"},
		{"reserved id", func(f *File) { f.Topics[0].Topic = TopicGeneral }, "reserved"},
		{"duplicate", func(f *File) { f.Topics = append(f.Topics, f.Topics[0]) }, "duplicate"},
		{"priority low", func(f *File) { f.Topics[0].Priority = 0 }, "outside 1-10"},
		{"priority high", func(f *File) { f.Topics[0].Priority = 11 }, "outside 1-10"},
		{"blank triggers", func(f *File) { f.Topics[0].Triggers = []string{" ", "¿?"} }, "no triggers"},
		{"safety without base", func(f *File) { f.Topics[0].Safety = true }, "safety topic"},
		{"safety cap below base", func(f *File) {
			f.Topics[0].Safety, f.Topics[0].Base, f.Topics[0].Cap = true, 0.8, 0.7
		}, "safety topic"},
		{"unnamed cluster", func(f *File) { f.OffTopic = []Cluster{{Phrases: []string{"clima"}}} }, "clusters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(&f)
			err := f.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRules)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCompile_DefaultsLabelToID(t *testing.T) {
	f := File{Topics: []TopicRule{{Topic: "grua", Priority: 7, Triggers: []string{"grua|patio*"}}}}
	s, err := f.Compile()
	require.NoError(t, err)
	assert.Equal(t, "grua", s.Label("grua"))
	require.Len(t, s.Topics, 1)
	assert.Len(t, s.Topics[0].Triggers, 1)
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Same(t, Default(), s)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := `
version: 7
social:
  - "hola|buenas"
topics:
  - topic: grua
    label: "grúa"
    priority: 8
    triggers:
      - "grua|patio*"
      - "sacar|recuperar"
  - topic: choque
    priority: 10
    safety: true
    base: 0.7
    step: 0.1
    cap: 0.9
    triggers:
      - "choque"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Version)
	assert.Len(t, s.Topics, 2)
	assert.Equal(t, "grúa", s.Label("grua"))
	assert.True(t, s.IsSafety("choque"))
	assert.Len(t, s.Social, 1)
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	data := `
version = 2
follow_up_markers = ["y cuanto|cuanto cuesta"]

[feedback]
negative = ["no me sirve"]

[[off_topic]]
name = "clima"
phrases = ["clima|lluvia*"]

[[topics]]
topic = "pico_y_placa"
priority = 9
triggers = ["pico y placa", "horario*|hoy"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Version)
	require.Len(t, s.OffTopic, 1)
	assert.Equal(t, "clima", s.OffTopic[0].Name)
	assert.Len(t, s.FollowUp, 1)
	assert.Len(t, s.Negative, 1)
	topic, ok := s.Topic("pico_y_placa")
	require.True(t, ok)
	assert.Len(t, topic.Triggers, 2)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("topics = [[["), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("version: 1\n"), 0o600))
	_, err = Load(empty)
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte("{}"), Format("json"))
	assert.Error(t, err)
}
