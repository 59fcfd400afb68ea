// Package archive implements a time-range archive writer producing a
// compressed JSONL stream, a sidecar index, and a checksum, plus a
// reader/verifier. The checksum is computed over the on-disk (compressed)
// bytes — see DESIGN.md for why.
package archive

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tachikoma-dev/tachikoma/pkg/audit"
	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

func (c Compression) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Config controls archive writer behavior.
type Config struct {
	Compression  Compression
	IncludeIndex bool
}

func DefaultConfig() Config { return Config{Compression: CompressionGzip, IncludeIndex: true} }

// IndexEntry locates one event within the decompressed JSONL stream. Offset
// and Length are pre-compression logical byte positions; readers decompress
// sequentially rather than seeking.
type IndexEntry struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Category  audit.Category `json:"category"`
	Action    string    `json:"action"`
	Offset    int64     `json:"offset"`
	Length    int64     `json:"length"`
}

// Index is the sidecar `<archive>.index.json` document.
type Index struct {
	ArchiveID string       `json:"archive_id"`
	Entries   []IndexEntry `json:"entries"`
	CreatedAt time.Time    `json:"created_at"`
}

// Metadata describes a finished archive.
type Metadata struct {
	ID             string      `json:"id"`
	CreatedAt      time.Time   `json:"created_at"`
	PeriodStart    time.Time   `json:"period_start"`
	PeriodEnd      time.Time   `json:"period_end"`
	EventCount     int         `json:"event_count"`
	OriginalSize   int64       `json:"original_size"`
	CompressedSize int64       `json:"compressed_size"`
	Compression    Compression `json:"compression"`
	Checksum       string      `json:"checksum"`
	FormatVersion  int         `json:"format_version"`
	HasIndex       bool        `json:"has_index"`
}

func newWriteCloser(underlying io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{underlying}, nil
	case CompressionGzip:
		return gzip.NewWriter(underlying), nil
	case CompressionZstd:
		return zstd.NewWriter(underlying)
	case CompressionLZ4:
		return lz4.NewWriter(underlying), nil
	default:
		return nil, terrors.New(terrors.KindValidation, "unsupported compression codec").WithSuggestion("use one of none, gzip, zstd, lz4")
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// CreateArchive writes events to outputPath under the configured
// compression codec, building a sidecar index when enabled, and returns
// the resulting Metadata. The checksum is computed over the final on-disk
// (compressed) bytes, read back after the file is closed — this is the
// deliberate fix over the Rust source's apparent pre-compression hashing
// (see package doc and DESIGN.md).
func CreateArchive(archiveID string, periodStart, periodEnd time.Time, events []audit.Event, outputPath string, cfg Config) (Metadata, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return Metadata{}, terrors.Wrap(terrors.KindIO, "create archive file", err)
	}

	comp, err := newWriteCloser(f, cfg.Compression)
	if err != nil {
		f.Close()
		return Metadata{}, err
	}

	var originalSize int64
	var offset int64
	var index Index
	index.ArchiveID = archiveID
	index.CreatedAt = time.Now().UTC()

	writeErr := func() error {
		bw := bufio.NewWriter(comp)
		for _, e := range events {
			line, err := json.Marshal(e)
			if err != nil {
				return terrors.Wrap(terrors.KindInternal, "marshal archived event", err)
			}
			line = append(line, '\n')
			n, err := bw.Write(line)
			if err != nil {
				return terrors.Wrap(terrors.KindIO, "write archive line", err)
			}
			if cfg.IncludeIndex {
				index.Entries = append(index.Entries, IndexEntry{
					EventID:   e.ID.String(),
					Timestamp: e.Timestamp,
					Category:  e.Category,
					Action:    e.Action,
					Offset:    offset,
					Length:    int64(n),
				})
			}
			offset += int64(n)
			originalSize += int64(n)
		}
		return bw.Flush()
	}()
	if writeErr != nil {
		comp.Close()
		f.Close()
		return Metadata{}, writeErr
	}
	if err := comp.Close(); err != nil {
		f.Close()
		return Metadata{}, terrors.Wrap(terrors.KindIO, "finalize archive compression", err)
	}
	if err := f.Close(); err != nil {
		return Metadata{}, terrors.Wrap(terrors.KindIO, "close archive file", err)
	}

	checksum, compressedSize, err := checksumFile(outputPath)
	if err != nil {
		return Metadata{}, err
	}

	if cfg.IncludeIndex {
		if err := writeIndex(outputPath, index); err != nil {
			return Metadata{}, err
		}
	}

	return Metadata{
		ID:             archiveID,
		CreatedAt:      index.CreatedAt,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		EventCount:     len(events),
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Compression:    cfg.Compression,
		Checksum:       checksum,
		FormatVersion:  1,
		HasIndex:       cfg.IncludeIndex,
	}, nil
}

func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, terrors.Wrap(terrors.KindIO, "open archive for checksum", err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, terrors.Wrap(terrors.KindIO, "read archive for checksum", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func indexPath(archivePath string) string {
	return archivePath + ".index.json"
}

func writeIndex(archivePath string, index Index) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return terrors.Wrap(terrors.KindInternal, "marshal archive index", err)
	}
	if err := os.WriteFile(indexPath(archivePath), data, 0o644); err != nil {
		return terrors.Wrap(terrors.KindIO, "write archive index", err)
	}
	return nil
}

// FileName builds the canonical archive filename for a period and codec.
func FileName(periodStart, periodEnd time.Time, indexed bool, c Compression) string {
	suffix := ""
	if indexed {
		suffix = "_indexed"
	}
	return fmt.Sprintf("audit_%s_%s%s.tar%s",
		periodStart.Format("20060102"), periodEnd.Format("20060102"), suffix, c.Extension())
}
