package operation

import (
	"fmt"
	"strconv"
	"strings"
)

// Angle is a clockwise rotation accepted by the tool.
type Angle int

const (
	Angle0   Angle = 0
	Angle90  Angle = 90
	Angle180 Angle = 180
	Angle270 Angle = 270
)

func (a Angle) String() string { return strconv.Itoa(int(a)) }

// ParseAngle accepts multiples of 90 between -270 and 270 and normalizes
// counter-clockwise values to their clockwise equivalent (-90 -> 270).
func ParseAngle(raw string) (Angle, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("angle %q is not an integer", raw)
	}
	return NormalizeAngle(n)
}

// NormalizeAngle is ParseAngle for an already-parsed integer.
func NormalizeAngle(n int) (Angle, error) {
	if n < -270 || n > 270 || n%90 != 0 {
		return 0, fmt.Errorf("angle %d must be one of 0, ±90, ±180, ±270", n)
	}
	return Angle((n + 360) % 360), nil
}
