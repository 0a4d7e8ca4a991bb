package storageiface

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/ntp"
)

func TestDiskLogSegmentsFromListsClosedSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	log, err := NewDiskLog(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000000000000010-00000000000000000019.log"), []byte("bbbbb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000000000000000-00000000000000000009.log"), []byte("aaaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000000000000020-00000000000000000029.log.active"), []byte("still-writing"), 0o644))

	segs := log.SegmentsFrom(0)
	require.Len(t, segs, 2)
	require.Equal(t, ntp.Offset(0), segs[0].BaseOffset)
	require.Equal(t, ntp.Offset(10), segs[1].BaseOffset)
	require.True(t, segs[0].CompactionFinished)
}

func TestDiskLogSegmentsFromFiltersByCommittedOffset(t *testing.T) {
	dir := t.TempDir()
	log, err := NewDiskLog(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000000000000000-00000000000000000009.log"), []byte("aaaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000000000000010-00000000000000000019.log"), []byte("bbbbb"), 0o644))

	segs := log.SegmentsFrom(10)
	require.Len(t, segs, 1)
	require.Equal(t, ntp.Offset(10), segs[0].BaseOffset)
}

func TestDiskLogOpenReturnsSegmentBytes(t *testing.T) {
	dir := t.TempDir()
	log, err := NewDiskLog(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000000000000000-00000000000000000009.log"), []byte("hello-seg"), 0o644))

	segs := log.SegmentsFrom(0)
	require.Len(t, segs, 1)

	r, err := log.Open(segs[0])
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello-seg", string(b))
}
