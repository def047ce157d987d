package dataset

import (
	"fmt"
)

// SkipReason classifies why a frame produced no sample.
type SkipReason string

// The reasons a frame is skipped.
const (
	SkipMalformedAnnotation SkipReason = "malformed_annotation"
	SkipExtrinsics          SkipReason = "extrinsics"
	SkipReprojection        SkipReason = "reprojection_error"
	SkipGeometry            SkipReason = "geometry"
	SkipUnreadableImage     SkipReason = "unreadable_image"
)

// SkipReasons lists every SkipReason.
var SkipReasons = []SkipReason{
	SkipMalformedAnnotation,
	SkipExtrinsics,
	SkipReprojection,
	SkipGeometry,
	SkipUnreadableImage,
}

// SkipError is a frame local failure. The frame is excluded from the dataset and the batch continues.
type SkipError struct {
	Camera int
	Frame  int
	Reason SkipReason
	Err    error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipped frame %d of camera %d (%s): %v", e.Frame, e.Camera, e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}
