package risk

// Manager is the subset of the risk engine the position lifecycle depends on.
type Manager interface {
	// CanOpenPosition reports whether a new position on symbol is allowed and why not.
	CanOpenPosition(symbol string) (bool, string)

	// AddPosition starts tracking an open position.
	AddPosition(pos Position) error

	// ApplyClose removes the position and books its realized P&L in one step.
	ApplyClose(symbol string, pnl float64) (Position, bool)

	// ReducePosition shrinks the position by size and books pnl in one step.
	ReducePosition(symbol string, size, pnl float64) (Position, bool)

	// Position returns the tracked position for symbol.
	Position(symbol string) (Position, bool)

	// Positions lists every open position.
	Positions() []Position
}
