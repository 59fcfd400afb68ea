package compliance

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/tachikoma-dev/tachikoma/pkg/audit"
	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// ExportFormat selects the output shape of a one-off event export.
type ExportFormat string

const (
	ExportJSONLines ExportFormat = "jsonl"
	ExportCSV       ExportFormat = "csv"
)

var csvHeader = []string{"id", "timestamp", "category", "action", "severity", "actor_kind", "outcome", "correlation_id"}

// Exporter streams a filtered range of audit events to a sink, independent
// of the archival pipeline: archival is for cold storage plus chain
// verification, export is for a one-off hand-off and carries no checksum
// or sidecar index.
type Exporter struct {
	store *audit.Store
}

func NewExporter(store *audit.Store) *Exporter {
	return &Exporter{store: store}
}

// Export writes every event matching filter to w in the requested format,
// returning the number of events written.
func (e *Exporter) Export(ctx context.Context, w io.Writer, filter audit.QueryFilter, format ExportFormat) (int, error) {
	events, err := e.store.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	switch format {
	case ExportJSONLines:
		return exportJSONLines(w, events)
	case ExportCSV:
		return exportCSV(w, events)
	default:
		return 0, terrors.New(terrors.KindValidation, "unknown export format: "+string(format))
	}
}

func exportJSONLines(w io.Writer, events []audit.Event) (int, error) {
	enc := json.NewEncoder(w)
	for i, e := range events {
		if err := enc.Encode(e); err != nil {
			return i, terrors.Wrap(terrors.KindIO, "encode audit event as json", err)
		}
	}
	return len(events), nil
}

func exportCSV(w io.Writer, events []audit.Event) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, terrors.Wrap(terrors.KindIO, "write csv header", err)
	}
	for i, e := range events {
		record := []string{
			e.ID.String(),
			e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			string(e.Category),
			e.Action,
			string(e.Severity),
			string(e.Actor.Kind),
			string(e.Outcome.Kind),
			e.CorrelationID,
		}
		if err := cw.Write(record); err != nil {
			return i, terrors.Wrap(terrors.KindIO, "write csv record", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(events), terrors.Wrap(terrors.KindIO, "flush csv writer", err)
	}
	return len(events), nil
}
