package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/davet/prodsync/internal/domain"
	"github.com/davet/prodsync/internal/logger"
	"github.com/davet/prodsync/internal/storage"
)

const (
	// readChunkSize is the streaming read granularity. The parser never
	// holds more than one batch plus one partial line in memory.
	readChunkSize = 32 * 1024

	ndjsonContentType = "application/x-ndjson"
)

// StreamOptions configures one streaming import pass.
type StreamOptions struct {
	UserID string
	JobID  string

	Mapping      domain.ColumnMapping
	Delimiter    string // empty enables auto-detection
	SkipRows     int
	HasHeaderRow bool

	DefaultCurrency string
}

// StreamResult reports the outcome of a streaming pass: the ordered
// checkpoint names plus row accounting.
type StreamResult struct {
	Checkpoints []string
	Accepted    int
	Skipped     int
}

// StreamImporter consumes a supplier file as a byte stream, normalizes rows
// and persists them as sequence-numbered NDJSON checkpoint blobs.
type StreamImporter struct {
	store     storage.ObjectStorage
	batchSize int
}

// NewStreamImporter creates a StreamImporter writing batches of batchSize
// records per checkpoint.
func NewStreamImporter(store storage.ObjectStorage, batchSize int) *StreamImporter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &StreamImporter{store: store, batchSize: batchSize}
}

// CheckpointKey returns the blob key for one checkpoint of a job.
// The sequence number orders the chunk chain; ListCheckpoints reconstructs
// the full set from the store.
func CheckpointKey(userID, jobID string, seq int) string {
	return fmt.Sprintf("%s%d.ndjson", CheckpointPrefix(userID, jobID), seq)
}

// CheckpointPrefix returns the key prefix shared by all of a job's
// checkpoints.
func CheckpointPrefix(userID, jobID string) string {
	return fmt.Sprintf("%s/%s_batch", userID, jobID)
}

// ListCheckpoints reconstructs a job's checkpoint set from the object store,
// ordered by sequence number. Lexicographic store order is not chain order
// once sequences reach two digits, so keys are re-sorted numerically.
func (s *StreamImporter) ListCheckpoints(ctx context.Context, userID, jobID string) ([]string, error) {
	keys, err := s.store.List(ctx, CheckpointPrefix(userID, jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	sort.Slice(keys, func(i, j int) bool {
		return checkpointSeq(keys[i]) < checkpointSeq(keys[j])
	})
	return keys, nil
}

// checkpointSeq extracts the sequence number from a checkpoint key, 0 when
// the key does not parse.
func checkpointSeq(key string) int {
	trimmed := strings.TrimSuffix(key, ".ndjson")
	idx := strings.LastIndex(trimmed, "_batch")
	if idx == -1 {
		return 0
	}
	n, err := strconv.Atoi(trimmed[idx+len("_batch"):])
	if err != nil {
		return 0
	}
	return n
}

// Run streams r to completion. Lines are reassembled across read boundaries,
// leading rows skipped and the delimiter detected from the header (or first
// data row). Accepted records accumulate until the batch size is reached,
// then the batch is flushed as an immutable checkpoint. A checkpoint upload
// failure aborts the import.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - r: the raw supplier file stream.
//   - opts: mapping and parsing configuration.
// Returns:
//   - *StreamResult: checkpoint names and row counts.
//   - error: non-nil when reading or checkpoint upload fails.
func (s *StreamImporter) Run(ctx context.Context, r io.Reader, opts StreamOptions) (*StreamResult, error) {
	result := &StreamResult{}
	delimiter := opts.Delimiter

	var (
		carry   string
		batch   []domain.SupplierRecord
		lineNum int
		seq     int
	)
	headerPending := opts.HasHeaderRow

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		seq++
		key := CheckpointKey(opts.UserID, opts.JobID, seq)
		if err := s.uploadBatch(ctx, key, batch); err != nil {
			return fmt.Errorf("failed to write checkpoint %s: %w", key, err)
		}
		result.Checkpoints = append(result.Checkpoints, key)
		batch = batch[:0]
		return nil
	}

	handleLine := func(line string) error {
		lineNum++
		if lineNum <= opts.SkipRows {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			return nil
		}
		if delimiter == "" {
			delimiter = detectDelimiter(line)
			logger.CtxDebug(ctx, "detected delimiter %q", delimiter)
		}
		// The first non-blank post-skip row is the header, never a record.
		if headerPending {
			headerPending = false
			return nil
		}

		rec, ok := ExtractRecord(strings.Split(line, delimiter), opts.Mapping, opts.DefaultCurrency)
		if !ok {
			result.Skipped++
			return nil
		}
		result.Accepted++
		batch = append(batch, rec)
		if len(batch) >= s.batchSize {
			return flush()
		}
		return nil
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			carry += string(buf[:n])
			lines := strings.Split(carry, "\n")
			carry = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				if err := handleLine(strings.TrimSuffix(line, "\r")); err != nil {
					return nil, err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read source stream: %w", readErr)
		}
	}
	if carry != "" {
		if err := handleLine(strings.TrimSuffix(carry, "\r")); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "streamed %d rows into %d checkpoints (%d skipped)",
		result.Accepted, len(result.Checkpoints), result.Skipped)
	return result, nil
}

// uploadBatch serializes a batch as newline-delimited JSON and uploads it.
func (s *StreamImporter) uploadBatch(ctx context.Context, key string, batch []domain.SupplierRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return s.store.Upload(ctx, key, &buf, int64(buf.Len()), ndjsonContentType)
}

// detectDelimiter picks the column delimiter by counting candidates in the
// header or first data row. Tab wins over semicolon over comma on ties;
// comma is the fallback when nothing matches.
func detectDelimiter(line string) string {
	best := ","
	bestCount := 0
	for _, cand := range []string{"\t", ";", ","} {
		if c := strings.Count(line, cand); c > bestCount {
			best = cand
			bestCount = c
		}
	}
	return best
}
