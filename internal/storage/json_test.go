package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/filecorr/pkg/types"
)

var legacyDocument = `{
    "` + strings.Repeat("bb", 32) + `": {
        "desc": "",
        "file_type": "application/pdf",
        "first_upload_date": "2024-03-01T10:00:00.000001Z",
        "hashes": {
            "md5": "` + strings.Repeat("c", 32) + `",
            "sha256": "` + strings.Repeat("bb", 32) + `",
            "ssdeep": "",
            "tlsh": "T1ABCDEF"
        },
        "last_upload_date": "2024-03-02T10:00:00.5Z",
        "name": ["report.pdf", "report.pdf", "copy.pdf"],
        "size": 52000
    },
    "` + strings.Repeat("aa", 32) + `": {
        "desc": "sample",
        "family": "Qakbot",
        "file_type": "application/x-dosexec",
        "first_upload_date": "2024-01-01T00:00:00",
        "hashes": {
            "md5": "` + strings.Repeat("d", 32) + `",
            "sha256": "` + strings.Repeat("aa", 32) + `",
            "ssdeep": "3072:abc:def",
            "tlsh": "TNULL"
        },
        "last_upload_date": "2024-01-01T00:00:00",
        "name": ["loader.exe"],
        "size": 81920,
        "tags": ["banker"]
    }
}`

func TestImportJSON_Legacy(t *testing.T) {
	records, err := ImportJSON(strings.NewReader(legacyDocument))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, strings.Repeat("bb", 32), first.Digest.String(), "file order is kept")
	assert.Equal(t, []string{"report.pdf", "copy.pdf"}, first.Names)
	tlshDigest, ok := first.Fingerprints.Approximate(types.MetricTLSH)
	assert.True(t, ok)
	assert.Equal(t, "T1ABCDEF", tlshDigest)
	_, ok = first.Fingerprints.Approximate(types.MetricSsdeep)
	assert.False(t, ok, "empty string reads as absent")
	assert.True(t, time.Date(2024, 3, 1, 10, 0, 0, 1000, time.UTC).Equal(first.FirstUploadDate))

	second := records[1]
	_, ok = second.Fingerprints.Approximate(types.MetricTLSH)
	assert.False(t, ok, "TNULL reads as absent")
	assert.Equal(t, "Qakbot", second.Family)
	assert.Equal(t, []string{"banker"}, second.Tags)
	assert.Equal(t, "sample", second.Description)
}

func TestImportJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"array", `[]`},
		{"bad key", `{"xyz": {"hashes": {}}}`},
		{"mismatched sha", `{"` + strings.Repeat("aa", 32) + `": {"hashes": {"sha256": "` + strings.Repeat("bb", 32) + `"}}}`},
		{"bad date", `{"` + strings.Repeat("aa", 32) + `": {"first_upload_date": "yesterday", "hashes": {}}}`},
		{"truncated", `{"` + strings.Repeat("aa", 32) + `": {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportJSON(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}

	records, err := ImportJSON(strings.NewReader("  "))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExportImport_RoundTrip(t *testing.T) {
	in := []types.FileRecord{testRecord(5, "e.bin"), testRecord(1, "a.bin")}
	in[1].Fingerprints.Approx = map[types.MetricName]string{types.MetricTLSH: "T1FF"}

	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, in))
	assert.Contains(t, buf.String(), `"ssdeep": ""`, "absent digests are written as empty strings")

	out, err := ImportJSON(&buf)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].Digest, out[i].Digest)
		assert.Equal(t, in[i].Names, out[i].Names)
		assert.Equal(t, in[i].Fingerprints, out[i].Fingerprints)
		assert.True(t, in[i].FirstUploadDate.Equal(out[i].FirstUploadDate))
	}
}

func TestExportJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, nil))
	assert.Equal(t, "{}\n", buf.String())
}

func TestJSONBackend_PutLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file_db.json")
	ctx := context.Background()

	backend, err := NewJSONBackend(path)
	require.NoError(t, err)

	records, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, backend.Put(ctx, testRecord(2, "b")))
	require.NoError(t, backend.Put(ctx, testRecord(1, "a")))

	merged := testRecord(2, "b")
	merged.Names = append(merged.Names, "c")
	require.NoError(t, backend.Put(ctx, merged))

	reopened, err := NewJSONBackend(path)
	require.NoError(t, err)
	records, err = reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, digestOf(2), records[0].Digest)
	assert.Equal(t, []string{"b", "c"}, records[0].Names)
	assert.Equal(t, digestOf(1), records[1].Digest)

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJSONBackend_FailedWriteLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file_db.json")
	ctx := context.Background()

	backend, err := NewJSONBackend(path)
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, testRecord(1, "a")))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// A directory in place of the target makes the rename fail
	backend.path = filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(backend.path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backend.path, "keep"), nil, 0o644))
	err = backend.Put(ctx, testRecord(2, "b"))
	require.Error(t, err)

	assert.Len(t, backend.records, 1)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestJSONBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file_db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewJSONBackend(path)
	assert.Error(t, err)
}
