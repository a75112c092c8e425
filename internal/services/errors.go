package services

import (
	"errors"
	"fmt"
	"strings"

	"curator/internal/asset"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrWorkerCrashed = errors.New("worker process crashed")
	ErrSpawn         = errors.New("worker spawn failed")
	ErrImportNeeded  = errors.New("import needed")
	ErrCircular      = errors.New("circular dependency")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later state classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureState maps a processing error to the transform state the curator
// should record once the asset leaves the updating set.
func FailureState(err error) asset.State {
	switch {
	case errors.Is(err, ErrImportNeeded):
		return asset.StateNeedsImport
	default:
		return asset.StateTransformError
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "curator failure"
	}
	return strings.Join(parts, ": ")
}
