package capture

import (
	"context"

	"github.com/vbonduro/rideshare/internal/domain"
)

// VehicleSubmission is the transport-ready payload: the vehicle attributes
// plus one base64 encoded image per angle.
type VehicleSubmission struct {
	domain.VehicleAttributes
	Images map[Angle]string `json:"images"`
}

// SubmitFunc hands a built submission to its target (vehicle create/update or
// verification update).
type SubmitFunc func(ctx context.Context, sub *VehicleSubmission) error
