package export

import (
	"context"
	"encoding/json"
	"io"

	"northstar-hq/polaris/pkg/state"
)

// JSONExporter exports routing decisions to JSON format.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// Export writes decisions to the provided writer as a JSON array. If
// Pretty is true the output is indented for readability.
func (e *JSONExporter) Export(ctx context.Context, decisions []*state.RoutingDecision, w io.Writer) error {
	if len(decisions) == 0 {
		_, err := w.Write([]byte("[]"))
		return err
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(decisions, "", "  ")
	} else {
		data, err = json.Marshal(decisions)
	}
	if err != nil {
		return newExportError("json", len(decisions), err)
	}

	if _, err := w.Write(data); err != nil {
		return newExportError("json", len(decisions), err)
	}
	return nil
}

// ExportStream exports decisions from a channel as a JSON array. Records
// are serialized as they arrive, making it suitable for very large
// exports.
func (e *JSONExporter) ExportStream(ctx context.Context, decisionsCh <-chan *state.RoutingDecision, w io.Writer) error {
	if _, err := w.Write([]byte("[")); err != nil {
		return newExportError("json", 0, err)
	}

	first := true
	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-decisionsCh:
			if !ok {
				if _, err := w.Write([]byte("]")); err != nil {
					return newExportError("json", count, err)
				}
				return nil
			}

			if !first {
				if _, err := w.Write([]byte(",")); err != nil {
					return newExportError("json", count, err)
				}
				if e.Pretty {
					if _, err := w.Write([]byte("\n")); err != nil {
						return newExportError("json", count, err)
					}
				}
			}
			first = false

			data, err := e.serialize(d)
			if err != nil {
				return newExportError("json", count, err)
			}
			if _, err := w.Write(data); err != nil {
				return newExportError("json", count, err)
			}
			count++
		}
	}
}

func (e *JSONExporter) serialize(d *state.RoutingDecision) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(d, "  ", "  ")
	}
	return json.Marshal(d)
}
