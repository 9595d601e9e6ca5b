package sample

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/triage/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{BaseDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreAndReadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	data := []byte{0x4D, 0x5A, 0x90, 0x00}

	res, err := st.Store(data, "sample.exe")
	require.NoError(t, err)
	require.False(t, res.IsDuplicate)

	exists, err := st.Exists(res.SHA256)
	require.NoError(t, err)
	require.True(t, exists)

	read, err := st.Read(res.SHA256)
	require.NoError(t, err)
	require.Equal(t, data, read)
}

func TestStoreDeduplicates(t *testing.T) {
	st := newTestStore(t)
	data := []byte{0x4D, 0x5A, 0x90, 0x00}

	first, err := st.Store(data, "a.exe")
	require.NoError(t, err)
	require.False(t, first.IsDuplicate)

	second, err := st.Store(data, "b.exe")
	require.NoError(t, err)
	require.True(t, second.IsDuplicate)
	require.Equal(t, first.Path, second.Path)
	require.Equal(t, 1, second.Metadata.AnalysisCount)
}

func TestStoreSanitizesTraversalFilename(t *testing.T) {
	st := newTestStore(t)
	res, err := st.Store([]byte{0x4D, 0x5A, 0x90, 0x00}, "../evil.exe")
	require.NoError(t, err)
	require.Equal(t, "evil.exe", res.Metadata.SanitizedName)
	require.Equal(t, model.FileTypeNativeExecutable, res.Metadata.Type.Variant)
}

func TestStoreRejectsEmptyInput(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Store(nil, "empty.bin")
	require.Error(t, err)
}

func TestDeleteThenCleanup(t *testing.T) {
	st := newTestStore(t)
	res, err := st.Store([]byte{1, 2, 3, 4}, "x.bin")
	require.NoError(t, err)

	require.NoError(t, st.Delete(res.SHA256))
	listed, err := st.ListByStatus(model.SampleDeleted)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	n, err := st.CleanupDeleted()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = st.Read(res.SHA256)
	require.Error(t, err)
}

func TestStageForAnalysisCopiesNotMoves(t *testing.T) {
	st := newTestStore(t)
	res, err := st.Store([]byte{1, 2, 3, 4}, "x.bin")
	require.NoError(t, err)

	stagedPath, err := st.StageForAnalysis(res.SHA256)
	require.NoError(t, err)
	require.FileExists(t, stagedPath)

	exists, err := st.Exists(res.SHA256)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, st.CleanupStaging())
	require.NoFileExists(t, stagedPath)
}

func TestListNewestFirst(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Store([]byte{1}, "one.bin")
	require.NoError(t, err)
	_, err = st.Store([]byte{2}, "two.bin")
	require.NoError(t, err)

	all, err := st.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.False(t, all[0].UploadedAt.Before(all[1].UploadedAt))
}
