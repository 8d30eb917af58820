package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/davet/prodsync/internal/domain"
)

func csvMapping() domain.ColumnMapping {
	return domain.ColumnMapping{
		domain.FieldRef:           0,
		domain.FieldName:          1,
		domain.FieldEAN:           2,
		domain.FieldPurchasePrice: 3,
	}
}

func buildCSV(rows int, delimiter string, header bool) string {
	var sb strings.Builder
	if header {
		sb.WriteString(strings.Join([]string{"ref", "name", "ean", "price"}, delimiter) + "\n")
	}
	for i := 0; i < rows; i++ {
		sb.WriteString(fmt.Sprintf("REF-%d%sProduct %d%s400638133%04d%s9.99\n", i, delimiter, i, delimiter, i, delimiter))
	}
	return sb.String()
}

// countLines counts the NDJSON records stored under a checkpoint key.
func countLines(t *testing.T, store *fakeStorage, key string) int {
	t.Helper()
	rc, err := store.Download(context.Background(), key)
	if err != nil {
		t.Fatalf("download %s: %v", key, err)
	}
	defer rc.Close()
	n := 0
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}

func TestStreamImporterBatching(t *testing.T) {
	store := newFakeStorage()
	imp := NewStreamImporter(store, 1000)

	src := strings.NewReader(buildCSV(2500, ",", true))
	res, err := imp.Run(context.Background(), src, StreamOptions{
		UserID:          "u1",
		JobID:           "j1",
		Mapping:         csvMapping(),
		HasHeaderRow:    true,
		DefaultCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accepted != 2500 {
		t.Errorf("accepted = %d, want 2500", res.Accepted)
	}
	if len(res.Checkpoints) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(res.Checkpoints))
	}
	wantKeys := []string{
		"u1/j1_batch1.ndjson",
		"u1/j1_batch2.ndjson",
		"u1/j1_batch3.ndjson",
	}
	wantSizes := []int{1000, 1000, 500}
	for i, key := range res.Checkpoints {
		if key != wantKeys[i] {
			t.Errorf("checkpoint[%d] = %q, want %q", i, key, wantKeys[i])
		}
		if got := countLines(t, store, key); got != wantSizes[i] {
			t.Errorf("checkpoint %s holds %d records, want %d", key, got, wantSizes[i])
		}
	}
}

func TestStreamImporterExactMultiple(t *testing.T) {
	store := newFakeStorage()
	imp := NewStreamImporter(store, 500)

	res, err := imp.Run(context.Background(), strings.NewReader(buildCSV(1000, ",", false)), StreamOptions{
		UserID: "u1", JobID: "j2", Mapping: csvMapping(), DefaultCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Checkpoints) != 2 {
		t.Errorf("checkpoints = %d, want 2 (no trailing empty batch)", len(res.Checkpoints))
	}
}

func TestStreamImporterDelimiterDetection(t *testing.T) {
	tests := []struct {
		name      string
		delimiter string
	}{
		{"comma", ","},
		{"semicolon", ";"},
		{"tab", "\t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStorage()
			imp := NewStreamImporter(store, 100)
			res, err := imp.Run(context.Background(), strings.NewReader(buildCSV(10, tt.delimiter, true)), StreamOptions{
				UserID: "u1", JobID: "j3", Mapping: csvMapping(), HasHeaderRow: true, DefaultCurrency: "EUR",
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Accepted != 10 {
				t.Errorf("accepted = %d, want 10", res.Accepted)
			}
		})
	}
}

func TestStreamImporterSkipRowsAndHeader(t *testing.T) {
	raw := "supplier export\ngenerated 2026-01-01\nref,name,ean,price\nREF-1,Widget,,2.50\n\nREF-2,Gadget,,3.50\n"
	store := newFakeStorage()
	imp := NewStreamImporter(store, 100)

	res, err := imp.Run(context.Background(), strings.NewReader(raw), StreamOptions{
		UserID: "u1", JobID: "j4", Mapping: csvMapping(),
		SkipRows: 2, HasHeaderRow: true, DefaultCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accepted != 2 {
		t.Errorf("accepted = %d, want 2 (preamble, header and blank line dropped)", res.Accepted)
	}
	if res.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", res.Skipped)
	}
}

func TestStreamImporterBlankLineBeforeHeader(t *testing.T) {
	// A blank row between the skipped preamble and the header must not
	// consume the header slot: the header is the first non-blank data row.
	raw := "supplier export\n\nref,name,ean,price\nREF-1,Widget,,2.50\n"
	store := newFakeStorage()
	imp := NewStreamImporter(store, 100)

	res, err := imp.Run(context.Background(), strings.NewReader(raw), StreamOptions{
		UserID: "u1", JobID: "j10", Mapping: csvMapping(),
		SkipRows: 1, HasHeaderRow: true, DefaultCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accepted != 1 {
		t.Errorf("accepted = %d, want 1 (header must not count as a record)", res.Accepted)
	}
}

func TestListCheckpointsNumericOrder(t *testing.T) {
	store := newFakeStorage()
	imp := NewStreamImporter(store, 100)
	ctx := context.Background()

	for seq := 1; seq <= 12; seq++ {
		key := CheckpointKey("u1", "j11", seq)
		if err := store.Upload(ctx, key, strings.NewReader("{}\n"), 3, ndjsonContentType); err != nil {
			t.Fatal(err)
		}
	}
	// Another job under the same user must not leak into the set.
	if err := store.Upload(ctx, CheckpointKey("u1", "other", 1), strings.NewReader("{}\n"), 3, ndjsonContentType); err != nil {
		t.Fatal(err)
	}

	keys, err := imp.ListCheckpoints(ctx, "u1", "j11")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(keys) != 12 {
		t.Fatalf("keys = %d, want 12", len(keys))
	}
	// Lexicographic listing puts batch10 before batch2; chain order must not.
	for i, key := range keys {
		if want := CheckpointKey("u1", "j11", i+1); key != want {
			t.Fatalf("keys[%d] = %q, want %q", i, key, want)
		}
	}
}

// slowReader feeds the stream a few bytes at a time so lines span reads.
type slowReader struct {
	data []byte
	pos  int
	step int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.step
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func TestStreamImporterPartialLineReassembly(t *testing.T) {
	raw := buildCSV(50, ",", false)
	store := newFakeStorage()
	imp := NewStreamImporter(store, 100)

	res, err := imp.Run(context.Background(), &slowReader{data: []byte(raw), step: 7}, StreamOptions{
		UserID: "u1", JobID: "j5", Mapping: csvMapping(), DefaultCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accepted != 50 {
		t.Errorf("accepted = %d, want 50", res.Accepted)
	}
}

func TestStreamImporterNoTrailingNewline(t *testing.T) {
	raw := "REF-1,Widget,,1.00\nREF-2,Gadget,,2.00"
	store := newFakeStorage()
	imp := NewStreamImporter(store, 100)

	res, err := imp.Run(context.Background(), strings.NewReader(raw), StreamOptions{
		UserID: "u1", JobID: "j6", Mapping: csvMapping(), DefaultCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", res.Accepted)
	}
}

func TestStreamImporterUploadFailureAborts(t *testing.T) {
	store := newFakeStorage()
	store.failUploads = true
	imp := NewStreamImporter(store, 10)

	_, err := imp.Run(context.Background(), strings.NewReader(buildCSV(25, ",", false)), StreamOptions{
		UserID: "u1", JobID: "j7", Mapping: csvMapping(), DefaultCurrency: "EUR",
	})
	if err == nil {
		t.Fatal("expected checkpoint upload failure to abort the run")
	}
}

func TestStreamImporterMalformedRowsSkipped(t *testing.T) {
	raw := "REF-1,Widget,,1.00\n,,,\nREF-2,Gadget,,2.00\n"
	store := newFakeStorage()
	imp := NewStreamImporter(store, 100)

	res, err := imp.Run(context.Background(), strings.NewReader(raw), StreamOptions{
		UserID: "u1", JobID: "j8", Mapping: csvMapping(), DefaultCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accepted != 2 || res.Skipped != 1 {
		t.Errorf("accepted/skipped = %d/%d, want 2/1", res.Accepted, res.Skipped)
	}
}
