package export

import "fmt"

// ExportError reports a failed export with the format and how many
// records were written before the failure.
type ExportError struct {
	Format  string
	Records int
	Err     error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("exporting %d records as %s: %v", e.Records, e.Format, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

func newExportError(format string, records int, err error) *ExportError {
	return &ExportError{Format: format, Records: records, Err: err}
}
