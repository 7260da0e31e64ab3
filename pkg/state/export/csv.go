package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"northstar-hq/polaris/pkg/state"
)

// CSVExporter exports routing decisions to CSV format.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Export writes decisions to the provided writer in CSV format. Nested
// structures are flattened: eligible keys become a semicolon-separated
// list, scores and alternatives become embedded JSON.
func (e *CSVExporter) Export(ctx context.Context, decisions []*state.RoutingDecision, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(headerRow()); err != nil {
			return newExportError("csv", 0, err)
		}
	}

	for i, d := range decisions {
		if err := writer.Write(decisionToRow(d)); err != nil {
			return newExportError("csv", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return newExportError("csv", len(decisions), err)
	}
	return nil
}

// ExportStream exports decisions from a channel to CSV format. This is
// memory-efficient for large audit trails as it streams records one at
// a time instead of loading the whole result set.
//
// The writer flushes every 100 records so long exports make visible
// progress.
func (e *CSVExporter) ExportStream(ctx context.Context, decisionsCh <-chan *state.RoutingDecision, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(headerRow()); err != nil {
			return newExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-decisionsCh:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return newExportError("csv", count, err)
				}
				return nil
			}

			if err := writer.Write(decisionToRow(d)); err != nil {
				return newExportError("csv", count, err)
			}
			count++

			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return newExportError("csv", count, err)
				}
			}
		}
	}
}

func headerRow() []string {
	return []string{
		"id", "request_id", "correlation_id", "timestamp",
		"selected_key_id", "selected_provider_id",
		"objective", "confidence",
		"eligible_keys", "scores", "explanation", "alternatives",
	}
}

func decisionToRow(d *state.RoutingDecision) []string {
	formatTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	formatJSON := func(v any) string {
		data, _ := json.Marshal(v)
		return string(data)
	}

	return []string{
		d.ID,
		d.RequestID,
		d.CorrelationID,
		formatTime(d.Timestamp),
		d.SelectedKeyID,
		d.SelectedProviderID,
		objectiveLabel(d.Objective),
		fmt.Sprintf("%.4f", d.Confidence),
		strings.Join(d.EligibleKeys, ";"),
		formatScores(d.Scores),
		d.Explanation,
		formatJSON(d.Alternatives),
	}
}

// objectiveLabel renders the objective compactly: the primary kind, with
// secondaries appended as "+kind" when present.
func objectiveLabel(o state.Objective) string {
	var b strings.Builder
	b.WriteString(string(o.Primary))
	for _, s := range o.Secondary {
		b.WriteString("+")
		b.WriteString(string(s))
	}
	return b.String()
}

// formatScores renders per-key scores as "key=score" pairs in key order,
// so repeated exports of the same decision produce identical rows.
func formatScores(scores map[string]float64) string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s=%.4f", id, scores[id]))
	}
	return strings.Join(parts, ";")
}
