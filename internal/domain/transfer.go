package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/waabox/dockworker/internal/image"
)

// distinctIDLength matches the run-name template of the pusher workflow.
const distinctIDLength = 6

// ImageTransferRequest is one image to copy into the private registry.
type ImageTransferRequest struct {
	Source     string
	Target     string
	DistinctID string
}

// NewImageTransferRequest builds a request. An empty target defaults to the
// source; the target is then normalized. An empty distinctID gets a fresh
// random token.
func NewImageTransferRequest(source, target, distinctID string) (ImageTransferRequest, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return ImageTransferRequest{}, fmt.Errorf("%w: source image is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(target) == "" {
		target = source
	}
	normalized, err := image.Normalize(target)
	if err != nil {
		return ImageTransferRequest{}, fmt.Errorf("%w: normalizing target: %w", ErrInvalidRequest, err)
	}
	distinctID = strings.TrimSpace(distinctID)
	if distinctID == "" {
		distinctID = NewDistinctID()
	}
	return ImageTransferRequest{
		Source:     source,
		Target:     normalized,
		DistinctID: distinctID,
	}, nil
}

// NewDistinctID returns a short random correlation token.
func NewDistinctID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:distinctIDLength]
}

// Inputs returns the workflow_dispatch input payload.
func (r ImageTransferRequest) Inputs() map[string]string {
	return map[string]string{
		"source":      r.Source,
		"target":      r.Target,
		"distinct_id": r.DistinctID,
	}
}

// RunMarker is the token the pusher workflow embeds in its run name.
func (r ImageTransferRequest) RunMarker() string {
	return "[" + r.DistinctID + "]"
}
