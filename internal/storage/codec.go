package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/filecorr/pkg/types"
)

// Legacy corpus file layout:
//
//	{
//	    "<sha256>": {
//	        "name": ["a.exe"],
//	        "size": 1234,
//	        "file_type": "application/x-dosexec",
//	        "first_upload_date": "2024-01-02T03:04:05.123456Z",
//	        "last_upload_date": "2024-01-02T03:04:05.123456Z",
//	        "desc": "",
//	        "family": "...",              (optional)
//	        "tags": ["..."],              (optional)
//	        "hashes": {"sha256": "", "md5": "", "tlsh": "", "ssdeep": ""}
//	    }
//	}
//
// Absent approximate digests are written as "".

const legacyTimeLayout = "2006-01-02T15:04:05.000000Z"

// Digest values older tools wrote when a hash could not be computed
var absentDigestMarkers = map[string]bool{
	"":      true,
	"TNULL": true,
	"error": true,
}

type legacyHashes struct {
	SHA256 string `json:"sha256"`
	MD5    string `json:"md5"`
	TLSH   string `json:"tlsh"`
	Ssdeep string `json:"ssdeep"`
}

type legacyEntry struct {
	Name            []string     `json:"name"`
	Size            int64        `json:"size"`
	FileType        string       `json:"file_type"`
	FirstUploadDate string       `json:"first_upload_date"`
	LastUploadDate  string       `json:"last_upload_date"`
	Desc            string       `json:"desc"`
	Family          string       `json:"family,omitempty"`
	Tags            []string     `json:"tags,omitempty"`
	Hashes          legacyHashes `json:"hashes"`
}

func formatLegacyTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(legacyTimeLayout)
}

func parseLegacyTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func encodeEntry(rec types.FileRecord) legacyEntry {
	tlshDigest, _ := rec.Fingerprints.Approximate(types.MetricTLSH)
	ssdeepDigest, _ := rec.Fingerprints.Approximate(types.MetricSsdeep)

	names := rec.Names
	if names == nil {
		names = []string{}
	}

	return legacyEntry{
		Name:            names,
		Size:            rec.Size,
		FileType:        rec.FileType,
		FirstUploadDate: formatLegacyTime(rec.FirstUploadDate),
		LastUploadDate:  formatLegacyTime(rec.LastUploadDate),
		Desc:            rec.Description,
		Family:          rec.Family,
		Tags:            rec.Tags,
		Hashes: legacyHashes{
			SHA256: rec.Digest.String(),
			MD5:    rec.Fingerprints.Secondary,
			TLSH:   tlshDigest,
			Ssdeep: ssdeepDigest,
		},
	}
}

func decodeEntry(key string, e legacyEntry) (types.FileRecord, error) {
	digest, err := types.ParseExactDigest(key)
	if err != nil {
		return types.FileRecord{}, err
	}
	if e.Hashes.SHA256 != "" && !strings.EqualFold(e.Hashes.SHA256, key) {
		return types.FileRecord{}, fmt.Errorf("entry %s: hashes.sha256 does not match key", key)
	}

	first, err := parseLegacyTime(e.FirstUploadDate)
	if err != nil {
		return types.FileRecord{}, fmt.Errorf("entry %s: %w", key, err)
	}
	last, err := parseLegacyTime(e.LastUploadDate)
	if err != nil {
		return types.FileRecord{}, fmt.Errorf("entry %s: %w", key, err)
	}

	approx := make(map[types.MetricName]string, 2)
	if !absentDigestMarkers[e.Hashes.TLSH] {
		approx[types.MetricTLSH] = e.Hashes.TLSH
	}
	if !absentDigestMarkers[e.Hashes.Ssdeep] {
		approx[types.MetricSsdeep] = e.Hashes.Ssdeep
	}

	return types.FileRecord{
		Digest:          digest,
		Names:           dedupe(e.Name),
		FirstUploadDate: first,
		LastUploadDate:  last,
		Size:            e.Size,
		FileType:        e.FileType,
		Description:     e.Desc,
		Family:          e.Family,
		Tags:            e.Tags,
		Fingerprints: types.FingerprintSet{
			Exact:     digest,
			Secondary: e.Hashes.MD5,
			Approx:    approx,
		},
	}, nil
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ExportJSON writes records in the legacy corpus format, preserving order
func ExportJSON(w io.Writer, records []types.FileRecord) error {
	bw := bufio.NewWriter(w)

	if len(records) == 0 {
		if _, err := bw.WriteString("{}\n"); err != nil {
			return err
		}
		return bw.Flush()
	}

	if _, err := bw.WriteString("{\n"); err != nil {
		return err
	}
	for i, rec := range records {
		key, err := json.Marshal(rec.Digest.String())
		if err != nil {
			return err
		}
		value, err := json.MarshalIndent(encodeEntry(rec), "    ", "    ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.Digest, err)
		}

		sep := ",\n"
		if i == len(records)-1 {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(bw, "    %s: %s%s", key, value, sep); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("}\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// ImportJSON reads a legacy corpus document. Records are returned in file
// order; a repeated key keeps its first position and its last value.
func ImportJSON(r io.Reader) ([]types.FileRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("decode corpus: top level must be an object")
	}

	var records []types.FileRecord
	index := make(map[types.ExactDigest]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode corpus: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode corpus: unexpected token %v", tok)
		}

		var entry legacyEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", key, err)
		}

		rec, err := decodeEntry(strings.ToLower(key), entry)
		if err != nil {
			return nil, err
		}

		if i, dup := index[rec.Digest]; dup {
			records[i] = rec
			continue
		}
		index[rec.Digest] = len(records)
		records = append(records, rec)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	return records, nil
}
