package pipeline

import "fmt"

// Error kinds map to retry boundaries: extraction errors abort the
// whole cycle (retried next period), persistence and render errors are
// contained to the document they belong to.

type ExtractError struct {
	Err error
}

func (e *ExtractError) Error() string { return "extract: " + e.Err.Error() }
func (e *ExtractError) Unwrap() error { return e.Err }

type PersistError struct {
	DocEntry int64
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist doc %d: %v", e.DocEntry, e.Err)
}
func (e *PersistError) Unwrap() error { return e.Err }

type RenderError struct {
	DocEntry int64
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render doc %d: %v", e.DocEntry, e.Err)
}
func (e *RenderError) Unwrap() error { return e.Err }
