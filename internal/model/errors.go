package model

import (
	"errors"
	"fmt"
)

// ResourceLoadError reports a bundled resource that is missing, unreadable
// or malformed.
type ResourceLoadError struct {
	Resource string
	Err      error
}

func (e *ResourceLoadError) Error() string {
	return fmt.Sprintf("failed to load resource %q: %v", e.Resource, e.Err)
}

func (e *ResourceLoadError) Unwrap() error { return e.Err }

// DecodeError reports image bytes that could not be turned into a pixel buffer.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ModelMismatchError means the model and the label set are out of sync.
type ModelMismatchError struct {
	Reason string
}

func (e *ModelMismatchError) Error() string {
	return "model mismatch: " + e.Reason
}

func IsResourceLoad(err error) bool {
	var target *ResourceLoadError
	return errors.As(err, &target)
}

func IsDecode(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

func IsModelMismatch(err error) bool {
	var target *ModelMismatchError
	return errors.As(err, &target)
}
