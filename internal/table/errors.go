package table

import (
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned by a Persister when nothing has been saved.
var ErrNoSnapshot = errors.New("no persisted dataset")

// EmptyDatasetError is returned when a load would leave no usable rows.
type EmptyDatasetError struct {
	Source string
	Reason string
}

func (e *EmptyDatasetError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("empty dataset: %s", e.Reason)
	}
	return fmt.Sprintf("empty dataset %q: %s", e.Source, e.Reason)
}

// IsEmptyDataset reports whether err is, or wraps, an EmptyDatasetError.
func IsEmptyDataset(err error) bool {
	var e *EmptyDatasetError
	return errors.As(err, &e)
}
