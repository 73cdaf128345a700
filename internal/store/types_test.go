package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"motivational-interviewing-index", "motivational-interviewing-namespace"},
		{"foo", "foo"},
		{"index", "namespace"},
		{"index-of-index", "namespace-of-index"},
		{"", ""},
		{"INDEX", "INDEX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NamespaceFor(tt.name))
		})
	}
}

func TestFieldMapDefaults(t *testing.T) {
	var zero FieldMap
	assert.Equal(t, "chunk_text", zero.Text())
	assert.Equal(t, "id", zero.ID())

	fm := DefaultFieldMap()
	assert.Equal(t, "chunk_text", fm.Text())
	assert.Equal(t, []string{"text"}, fm.Roles())
	assert.Equal(t, "video_title", fm.Field("video_title"))
}

func TestFieldMapIsImmutable(t *testing.T) {
	src := map[string]string{"text": "pegasus_summary", "video_title": "title"}
	fm := NewFieldMap(src)

	src["text"] = "mutated"
	assert.Equal(t, "pegasus_summary", fm.Text())

	copied := fm.Map()
	copied["text"] = "mutated"
	assert.Equal(t, "pegasus_summary", fm.Text())

	a := DefaultFieldMap()
	b := DefaultFieldMap()
	a.Map()["text"] = "mutated"
	assert.Equal(t, "chunk_text", b.Text())
}

func TestFieldMapRoles(t *testing.T) {
	fm := NewFieldMap(map[string]string{
		"video_title": "title",
		"text":        "summary",
		"":            "ignored",
		"eval_score":  "",
	})

	assert.Equal(t, []string{"text", "video_title"}, fm.Roles())
	assert.Equal(t, "title", fm.Field("video_title"))
	assert.Equal(t, map[string]any{"text": "summary"}, fm.ServiceFieldMap())
}

func TestNewIndexHandle(t *testing.T) {
	h := NewIndexHandle("training-index", DefaultFieldMap())
	assert.Equal(t, "training-index", h.Name)
	assert.Equal(t, "training-namespace", h.Namespace)
	assert.Equal(t, "chunk_text", h.FieldMap.Text())
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "auto", ShapeAuto.String())
	assert.Equal(t, "nested", ShapeNested.String())
	assert.Equal(t, "flat", ShapeFlat.String())
}
