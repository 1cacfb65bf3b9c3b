package storage

// Outcome tells callers what a mutating backend call did, so "already
// satisfied" is distinguishable from "done" and from "failed".
type Outcome int

const (
	Failed Outcome = iota
	Created
	AlreadyPresent
	Deleted
	Absent
	Renamed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyPresent:
		return "already present"
	case Deleted:
		return "deleted"
	case Absent:
		return "absent"
	case Renamed:
		return "renamed"
	}
	return "failed"
}

// OK reports whether the call succeeded, whether or not it changed anything.
func (o Outcome) OK() bool {
	return o != Failed
}
