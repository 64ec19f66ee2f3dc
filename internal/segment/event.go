package segment

// Kind identifies one of the three transitions a segment understands.
type Kind string

const (
	KindLoad  Kind = "LOAD"
	KindInit  Kind = "INIT"
	KindClear Kind = "CLEAR"
)

const eventPrefix = "@@segment/"

// EventName returns the event type for kind on the given segment. Names are
// unique across a store as long as segment IDs are: kinds never contain a
// slash, so the last slash always separates the segment ID from the kind.
func EventName(segmentID string, kind Kind) string {
	return eventPrefix + segmentID + "/" + string(kind)
}

// Types holds the event names of one segment.
type Types struct {
	Load  string
	Init  string
	Clear string
}

func typesFor(segmentID string) Types {
	return Types{
		Load:  EventName(segmentID, KindLoad),
		Init:  EventName(segmentID, KindInit),
		Clear: EventName(segmentID, KindClear),
	}
}

// All returns the three names in load, init, clear order.
func (t Types) All() []string {
	return []string{t.Load, t.Init, t.Clear}
}

// Event is a transition to apply to a segment state. Clear events carry only
// a Type.
type Event struct {
	Type    string
	QueryID string
	Payload *Piece
}
