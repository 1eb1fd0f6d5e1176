package segmentation

import "fmt"

// SegmentationError reports that fewer than two bone components survived.
// The pipeline cannot continue without both femur and tibia.
type SegmentationError struct {
	// Step names the part of the segmentation that gave up
	Step string

	// Components is the number of surviving bone components
	Components int

	// Detail adds context about the input
	Detail string
}

func (e *SegmentationError) Error() string {
	msg := fmt.Sprintf("segmentation failed at %s: %d bone component(s) survived, need 2", e.Step, e.Components)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}
