// Package export serializes routing decision audit records to CSV and
// JSON for offline analysis.
//
// Both exporters offer a slice-based Export for bounded result sets and
// a channel-based ExportStream for large audit trails, so callers can
// page decisions out of the state store without holding them all in
// memory.
package export
