package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountyRegistry_Lookup(t *testing.T) {
	reg := NewCountyRegistry(DefaultCounties())

	c, ok := reg.Lookup("Lee")
	require.True(t, ok)
	assert.Equal(t, "Lee", c.Slug)

	// Display name and sloppy casing resolve to the same county.
	c, ok = reg.Lookup("lee county")
	require.True(t, ok)
	assert.Equal(t, "Lee", c.Slug)

	_, ok = reg.Lookup("Atlantis")
	assert.False(t, ok)

	assert.Equal(t, 16, reg.Size())
}

func TestLoadCountyRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counties.yaml")
	yaml := `counties:
  - slug: Lee
    name: Lee County
    jail_location: "2501 Ortiz Ave, Fort Myers"
  - slug: Collier
    name: Collier County
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	reg, err := LoadCountyRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Size())

	c, ok := reg.Lookup("collier")
	require.True(t, ok)
	assert.Equal(t, "Collier County", c.Name)
}

func TestLoadCountyRegistry_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counties.yaml")
	require.NoError(t, os.WriteFile(path, []byte("counties: []\n"), 0o644))

	_, err := LoadCountyRegistry(path)
	assert.Error(t, err)
}

func TestLoadCountyRegistry_MissingFile(t *testing.T) {
	_, err := LoadCountyRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
