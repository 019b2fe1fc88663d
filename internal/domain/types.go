package domain

import (
	"fmt"
	"strings"
	"time"
)

// Vehicle is the backend's view of a registered vehicle.
type Vehicle struct {
	ID           string            `json:"id"`
	Make         string            `json:"make"`
	Model        string            `json:"model"`
	Year         int               `json:"year"`
	Color        string            `json:"color"`
	LicensePlate string            `json:"license_plate"`
	Seats        int               `json:"seats"`
	VehicleType  string            `json:"vehicle_type"`
	Images       map[string]string `json:"images,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// VehicleAttributes are the textual fields submitted alongside the photos.
type VehicleAttributes struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
	Seats        int    `json:"seats"`
	VehicleType  string `json:"vehicle_type"`
}

// MissingFieldsError lists the vehicle attributes that were left empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing vehicle fields: %s", strings.Join(e.Fields, ", "))
}

// Validate reports every empty or non-positive field at once.
func (a VehicleAttributes) Validate() error {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("make", strings.TrimSpace(a.Make) != "")
	check("model", strings.TrimSpace(a.Model) != "")
	check("year", a.Year > 0)
	check("color", strings.TrimSpace(a.Color) != "")
	check("license_plate", strings.TrimSpace(a.LicensePlate) != "")
	check("seats", a.Seats > 0)
	check("vehicle_type", strings.TrimSpace(a.VehicleType) != "")
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

const (
	CaptureSetOpen      = "open"
	CaptureSetSubmitted = "submitted"
	CaptureSetDiscarded = "discarded"
)

// CaptureSet is the local record of one capture flow.
type CaptureSet struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	TargetID  string    `json:"target_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CapturedPhoto records the current artifact for one angle of a capture set.
type CapturedPhoto struct {
	SetID      string
	Angle      string
	StorageKey string
	MimeType   string
	SizeBytes  int64
	Width      int
	Height     int
	CapturedAt time.Time
}

const (
	SubmissionSucceeded = "succeeded"
	SubmissionFailed    = "failed"
)

// Submission is one recorded attempt to hand a capture set to the backend.
type Submission struct {
	ID        int64     `json:"id"`
	SetID     string    `json:"set_id"`
	Kind      string    `json:"kind"`
	TargetID  string    `json:"target_id,omitempty"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
