package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/internal/utils"
)

// CreateFlags indicate specific collector behaviors to activate or deactivate
type CreateFlags int32

var collectorCreateFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	collectorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return collectorCreateFlagsMapping.FlagsToString(f)
}

const (
	// CollectorCreateExternallySynchronized removes the lock that barriers share with ConcurrentStep. Only use
	// it when the mutator and the collector never run at the same time.
	CollectorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CollectorCreateExternallySynchronized.Register("CollectorCreateExternallySynchronized")
}

const (
	// DefaultPromotionThreshold is the number of minor collections an object must survive to be promoted
	DefaultPromotionThreshold = 5
	// DefaultMinorTriggerRatio is the fraction of the Minor page budget that starts a minor cycle
	DefaultMinorTriggerRatio = 0.9
	// DefaultMajorGrowthRatio is how much the elder generation may grow relative to its size after the
	// last major cycle before another one starts
	DefaultMajorGrowthRatio = 1.0
	// DefaultStepBudget is the number of units of work a single ConcurrentStep performs
	DefaultStepBudget = 64

	// majorFloorBytes keeps small heaps from running a major cycle after every minor one
	majorFloorBytes = 1 << 20
)

// Options contains optional collector settings. Zero values select the defaults.
type Options struct {
	Flags CreateFlags
	// PromotionThreshold is the number of minor collections an object survives before it is copied to
	// the Major region instead of back into Minor
	PromotionThreshold int
	// MinorTriggerRatio is the heap.MinorPressure at which a minor cycle starts on its own
	MinorTriggerRatio float64
	// MajorGrowthRatio is the elder generation growth, relative to its size when the last major cycle
	// finished, that makes the next finished minor cycle continue into a major one
	MajorGrowthRatio float64
	// StepBudget is the maximum number of units of work performed by one ConcurrentStep
	StepBudget int
	// StepBytes bounds the payload bytes one ConcurrentStep may evacuate. Zero means no limit.
	StepBytes int
}

func (o Options) withDefaults() (Options, error) {
	if o.PromotionThreshold < 0 || o.PromotionThreshold > 255 {
		return o, errors.Newf("gc.Options.PromotionThreshold must be between 0 and 255, but was %d", o.PromotionThreshold)
	}
	if o.MinorTriggerRatio < 0 || o.MajorGrowthRatio < 0 || o.StepBudget < 0 || o.StepBytes < 0 {
		return o, errors.New("gc.Options ratios and budgets must not be negative")
	}

	if o.PromotionThreshold == 0 {
		o.PromotionThreshold = DefaultPromotionThreshold
	}
	if o.MinorTriggerRatio == 0 {
		o.MinorTriggerRatio = DefaultMinorTriggerRatio
	}
	if o.MajorGrowthRatio == 0 {
		o.MajorGrowthRatio = DefaultMajorGrowthRatio
	}
	if o.StepBudget == 0 {
		o.StepBudget = DefaultStepBudget
	}

	return o, nil
}
