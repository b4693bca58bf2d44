package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldTopLevelBeforeProperties(t *testing.T) {
	n := Node{
		UUID:       "n1",
		Title:      "Report",
		Properties: map[string]any{"title": "shadowed", "custom": 42},
	}
	v, ok := n.Field("title")
	assert.True(t, ok)
	assert.Equal(t, "Report", v)

	v, ok = n.Field("custom")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = n.Field("missing")
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	n := Node{UUID: "n1", Tags: []string{"a"}, Properties: map[string]any{"k": "v"}}
	c := n.Clone()
	c.Tags[0] = "b"
	c.Properties["k"] = "changed"

	assert.Equal(t, "a", n.Tags[0])
	assert.Equal(t, "v", n.Properties["k"])
}

func TestIsFolderAndRoot(t *testing.T) {
	root := Node{UUID: RootUUID, Mimetype: FolderMimetype}
	assert.True(t, root.IsFolder())
	assert.True(t, root.IsRoot())

	file := Node{UUID: "f1", Mimetype: "text/plain"}
	assert.False(t, file.IsFolder())
}

func TestIsSmartFolder(t *testing.T) {
	plain := Node{Mimetype: FolderMimetype}
	assert.False(t, plain.IsSmartFolder())
}
