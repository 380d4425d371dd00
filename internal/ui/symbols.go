package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Check passed
	SymbolFail     = "✗" // Hop or command failed
	SymbolPending  = "○" // Not yet attempted
	SymbolProgress = "◐" // Connecting
	SymbolComplete = "●" // Hop connected
	SymbolSkipped  = "⊘" // Not reached because an earlier hop failed
	SymbolArrow    = "→" // Separates hops in a chain
)
