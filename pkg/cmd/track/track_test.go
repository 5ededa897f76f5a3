package track

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/race-progress/testsupport/trackdata"
)

func TestCheckFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "square.yml")
	require.NoError(t, os.WriteFile(good, []byte(trackdata.SquareYAML), 0o600))
	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("name: bad\nwaypoints: []\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, checkFiles(&out, []string{good}, 10))
	assert.Contains(t, out.String(), "square")
	assert.Contains(t, out.String(), "200.0")

	out.Reset()
	err := checkFiles(&out, []string{good}, 60)
	require.Error(t, err)
	assert.Contains(t, out.String(), good)

	out.Reset()
	err = checkFiles(&out, []string{good, bad, filepath.Join(dir, "missing.yml")}, 10)
	require.EqualError(t, err, "2 of 3 track files are invalid")
	assert.Contains(t, out.String(), bad)
}
