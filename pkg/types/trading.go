package types

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) String() string {
	return string(s)
}

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// RealizedPnL is the profit of a position of the given side closed at exitPrice.
func RealizedPnL(side Side, entryPrice, exitPrice, size float64) float64 {
	if side == SideShort {
		return (entryPrice - exitPrice) * size
	}
	return (exitPrice - entryPrice) * size
}
