// Package capture drives the unattended four-angle vehicle photo sequence:
// a Session owns one camera stream and one countdown capture, and an
// Orchestrator owns the set of captured angles and gates submission on full
// coverage.
package capture

import "fmt"

// Angle is one of the mandated vehicle viewpoints.
type Angle string

const (
	AngleFront Angle = "front"
	AngleBack  Angle = "back"
	AngleLeft  Angle = "left"
	AngleRight Angle = "right"
)

var angles = [...]Angle{AngleFront, AngleBack, AngleLeft, AngleRight}

var instructions = map[Angle]string{
	AngleFront: "Stand in front of the vehicle and fit the whole front, including the license plate, in the frame.",
	AngleBack:  "Stand behind the vehicle and fit the whole rear, including the license plate, in the frame.",
	AngleLeft:  "Stand on the driver's side and fit the full length of the vehicle in the frame.",
	AngleRight: "Stand on the passenger's side and fit the full length of the vehicle in the frame.",
}

// Angles returns the four angles in capture order.
func Angles() []Angle {
	out := make([]Angle, len(angles))
	copy(out, angles[:])
	return out
}

func ParseAngle(s string) (Angle, error) {
	a := Angle(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAngle, s)
	}
	return a, nil
}

func (a Angle) Valid() bool {
	_, ok := instructions[a]
	return ok
}

// Required reports whether a submission needs this angle. All four are.
func (a Angle) Required() bool { return a.Valid() }

func (a Angle) Instruction() string { return instructions[a] }

func (a Angle) String() string { return string(a) }
