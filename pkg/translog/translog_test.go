package translog_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-spool/pkg/translog"
)

func TestWriteAndRead(t *testing.T) {
	start := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	for _, format := range []translog.Format{translog.None, translog.Gzip, translog.Zstd} {
		t.Run(format.String(), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "logs")
			w, err := translog.Create(dir, "web1", start, format)
			require.NoError(t, err)
			assert.Equal(t, "web1-20240310T030000Z.log"+format.Ext(), filepath.Base(w.Path()))

			_, err = io.WriteString(w, "sending incremental file list\n")
			require.NoError(t, err)
			_, err = io.WriteString(w, "etc/hosts\n")
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := translog.Open(w.Path())
			require.NoError(t, err)
			defer r.Close()
			content, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "sending incremental file list\netc/hosts\n", string(content))
		})
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		name := translog.FileName("web1", base.AddDate(0, 0, i), translog.Zstd)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	other := translog.FileName("web1-old", base, translog.Zstd)
	require.NoError(t, os.WriteFile(filepath.Join(dir, other), nil, 0o644))

	require.NoError(t, translog.Prune(dir, "web1", 2))

	logs, err := translog.List(dir, "web1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, translog.FileName("web1", base.AddDate(0, 0, 3), translog.Zstd), filepath.Base(logs[0]))
	assert.Equal(t, translog.FileName("web1", base.AddDate(0, 0, 4), translog.Zstd), filepath.Base(logs[1]))

	_, err = os.Stat(filepath.Join(dir, other))
	assert.NoError(t, err, "logs of other targets must survive")
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"none", "gz", "zst"} {
		f, err := translog.ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, s, f.String())
	}
	_, err := translog.ParseFormat("bz2")
	assert.Error(t, err)
	assert.Equal(t, fmt.Sprintf("unknown_log_format(%s)", "xz"), translog.Format("xz").String())
}
