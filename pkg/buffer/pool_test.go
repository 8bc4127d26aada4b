package buffer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyReportsProgress(t *testing.T) {
	src := strings.NewReader(strings.Repeat("a", DefaultSize*2+10))
	var dst bytes.Buffer
	var last int64
	calls := 0

	n, err := Copy(&dst, src, func(w int64) {
		calls++
		last = w
	})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultSize*2+10), n)
	assert.Equal(t, n, last)
	assert.GreaterOrEqual(t, calls, 3)
	assert.Equal(t, int(n), dst.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCopyWriteError(t *testing.T) {
	_, err := Copy(failingWriter{}, strings.NewReader("data"), nil)
	assert.EqualError(t, err, "disk full")
}

func TestPoolReuse(t *testing.T) {
	p := NewPool(16)
	b := p.Get()
	assert.Len(t, *b, 16)
	*b = (*b)[:4]
	p.Put(b)
	assert.Len(t, *p.Get(), 16)
}
