package spreadsheet

// visitState is the per-iteration state of a position in the evaluator's
// depth-first walk
type visitState uint8

const (
	visitUnvisited visitState = iota
	visitInProgress
	visitDone
)

func (s visitState) String() string {
	switch s {
	case visitInProgress:
		return "in-progress"
	case visitDone:
		return "done"
	default:
		return "unvisited"
	}
}

// visitArena stores visit states densely: positions get a slot the first
// time they are touched in an iteration, and the arena is reset between
// iterations without freeing its memory
type visitArena struct {
	slots  map[PositionID]int
	states []visitState
}

func newVisitArena() *visitArena {
	return &visitArena{slots: make(map[PositionID]int)}
}

func (a *visitArena) state(id PositionID) visitState {
	slot, exists := a.slots[id]
	if !exists {
		return visitUnvisited
	}
	return a.states[slot]
}

func (a *visitArena) set(id PositionID, s visitState) {
	slot, exists := a.slots[id]
	if !exists {
		slot = len(a.states)
		a.slots[id] = slot
		a.states = append(a.states, s)
		return
	}
	a.states[slot] = s
}

func (a *visitArena) reset() {
	clear(a.slots)
	a.states = a.states[:0]
}

// frame is one formula on the evaluator's explicit stack: its declared
// dependencies are visited one by one before the formula executes
type frame struct {
	id    PositionID
	pos   Position
	cell  Cell
	deps  []PositionID
	next  int
	cycle bool
}
