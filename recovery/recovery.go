package recovery

// Strategy decides how loading proceeds after a structural error.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

// Location identifies where in the file an error was encountered.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

// Component names reported in Location.
const (
	ComponentXref     = "xref"
	ComponentTrailer  = "trailer"
	ComponentObject   = "object"
	ComponentStream   = "stream"
	ComponentPageTree = "pagetree"
	ComponentMetadata = "metadata"
)

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

type Context interface{ Done() <-chan struct{} }
