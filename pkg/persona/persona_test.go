package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Homer, p)
	assert.Contains(t, p, "ONLY talks about donuts")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("  You love crullers.\n"), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "You love crullers.", p)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("/nonexistent/persona.txt")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
