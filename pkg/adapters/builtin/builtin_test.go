package builtin

import (
	"testing"

	"github.com/qarbon/qingest/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(registry.DefaultOptions(), Config{})
	require.NoError(t, err)

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"codecarbon", "aiimpact", "schema", "fit", "xlsx", "csv", "xml", "yaml", "json"}, names)
}

func TestEmptySchemaDir(t *testing.T) {
	list, err := Adapters(Config{SchemaDir: t.TempDir()})
	require.NoError(t, err)
	assert.Len(t, list, 9)
}
