package osutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalMemory(t *testing.T) {
	dir := t.TempDir()

	write := func(name, contents string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
		return path
	}

	limited := write("limited", "1024\n")
	unrestricted := write("unrestricted", "9223372036854771712\n")
	max := write("max", "max\n")
	garbage := write("garbage", "lots\n")
	missing := filepath.Join(dir, "missing")

	assert.EqualValues(t, 1024, totalMemory(4096, []string{limited}))
	assert.EqualValues(t, 1024, totalMemory(4096, []string{missing, max, limited}))
	assert.EqualValues(t, 4096, totalMemory(4096, []string{unrestricted, max, garbage, missing}))
	assert.EqualValues(t, 512, totalMemory(512, []string{limited}))

	assert.True(t, GetTotalMemory() > 0)
}
