package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpirt/blockimgdiff/rangeset"
)

const sample = `
files:
  /system/build.prop:
    ranges:
      - {start: 0, end: 5}
  /system/app/Foo.apk:
    ranges:
      - {start: 5, end: 10}
      - {start: 20, end: 24}
clobbered:
  - {start: 24, end: 25}
extended:
  - {start: 100, end: 110}
`

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(sample))
	require.NoError(t, err)

	fm := m.FileMap()
	assert.Equal(t, 2, fm.Len())
	bp, ok := fm.Get("/system/build.prop")
	require.True(t, ok)
	assert.Equal(t, rangeset.FromPairs(0, 5), bp)

	apk, ok := fm.Get("/system/app/Foo.apk")
	require.True(t, ok)
	assert.Equal(t, rangeset.FromPairs(5, 10, 20, 24), apk)

	assert.Equal(t, rangeset.FromPairs(24, 25), m.ClobberedRangeSet())
	assert.Equal(t, rangeset.FromPairs(100, 110), m.ExtendedRangeSet())
}

func TestDecodeEmptyManifest(t *testing.T) {
	m, err := Decode([]byte("files: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, m.FileMap().Len())
	assert.True(t, m.ClobberedRangeSet().Empty())
}

func TestDecodeFileMapOrderedLexically(t *testing.T) {
	m, err := Decode([]byte(`
files:
  /z:
    ranges: [{start: 0, end: 1}]
  /a:
    ranges: [{start: 1, end: 2}]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/z"}, m.FileMap().Keys())
}

func TestDecodeInvalidYAML(t *testing.T) {
	_, err := Decode([]byte("not: [valid: yaml"))
	require.Error(t, err)
}
