package gc

// stepContext tracks the work done by a single ConcurrentStep across the units it performs
type stepContext struct {
	// MaxUnits is the maximum number of units of work to perform in this step. A unit is one popped
	// entry, one marked object, or one swept span.
	MaxUnits int
	// MaxBytes is the maximum number of payload bytes to evacuate in this step. A step stops early
	// once it has been reached, but never splits an object.
	MaxBytes int

	units      int
	bytesMoved int
}

// incrementCounters records a finished unit and reports whether the step's budget is spent
func (p *stepContext) incrementCounters(bytesMoved int) bool {
	p.units++
	p.bytesMoved += bytesMoved

	return p.units >= p.MaxUnits || (p.MaxBytes > 0 && p.bytesMoved >= p.MaxBytes)
}
