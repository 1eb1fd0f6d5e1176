package variants

import (
	"fmt"

	"github.com/pkg/errors"
)

// ExpansionWarning reports an expansion that could not grow the mask.
// It is never returned as an error; it travels on a warning event.
type ExpansionWarning struct {
	Name   string
	MM     float64
	Radius [3]int
}

func (w *ExpansionWarning) Error() string {
	return fmt.Sprintf("expansion %q by %gmm has zero radius %v: mask unchanged", w.Name, w.MM, w.Radius)
}

// ErrEmptyShell is attached to warnings when a label gained no voxels from expansion.
var ErrEmptyShell = errors.New("empty expansion shell")
