package gc

// State is the collector's position in its cycle
type State int32

const (
	// StateNormal means no collection is in progress. Barriers only record old-to-young stores.
	StateNormal State = iota
	// StateMinorGC means young objects are being evacuated out of the flipped Minor pages
	StateMinorGC
	// StateMajorGC means the elder generation is being marked or swept
	StateMajorGC
)

var stateMapping = map[State]string{
	StateNormal:  "Normal",
	StateMinorGC: "MinorGC",
	StateMajorGC: "MajorGC",
}

func (s State) String() string {
	return stateMapping[s]
}

type majorPhase int

const (
	majorMarkRoots majorPhase = iota
	majorMarking
	majorSweeping
)

var majorPhaseMapping = map[majorPhase]string{
	majorMarkRoots: "MarkRoots",
	majorMarking:   "Marking",
	majorSweeping:  "Sweeping",
}

func (p majorPhase) String() string {
	return majorPhaseMapping[p]
}
