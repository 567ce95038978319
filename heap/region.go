package heap

// RegionKind identifies the pool an address was allocated from
type RegionKind uint8

const (
	// RegionNone is never returned by RegionOf: resolving an untracked address panics
	RegionNone RegionKind = iota
	// RegionMinor holds young objects, which are copied by minor collections
	RegionMinor
	// RegionMajor holds elder objects, which are marked and swept in place
	RegionMajor
	// RegionHuge holds objects of at least PageSize bytes, each in a dedicated span that is never moved
	RegionHuge
	// RegionStatic holds process-lifetime objects
	RegionStatic
	// RegionAuto holds auto stack chunks. Objects there never move and are released when their frame pops.
	RegionAuto
)

var regionKindMapping = map[RegionKind]string{
	RegionNone:   "None",
	RegionMinor:  "Minor",
	RegionMajor:  "Major",
	RegionHuge:   "Huge",
	RegionStatic: "Static",
	RegionAuto:   "Auto",
}

func (k RegionKind) String() string {
	return regionKindMapping[k]
}

// IsElder reports whether objects in the region are marked by major collections
func (k RegionKind) IsElder() bool {
	return k == RegionMajor || k == RegionHuge
}
