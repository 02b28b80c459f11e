// Package stopper implements the stop conditions consulted after every decode
// step. A Pipeline is built fresh for each request from a Config and holds an
// ordered list of Stoppers; the first one that fires ends the generation.
//
// Stoppers are not safe for concurrent use. Each one belongs to exactly one
// request for that request's lifetime.
package stopper

// Well-known finish reason descriptions.
const (
	ReasonMaxTokens = "Maximum tokens reached"
	ReasonEOS       = "End of sequence token detected"
	ReasonCancelled = "Cancelled by caller"
	ReasonTimeout   = "Timeout exceeded"
	ReasonShutdown  = "Cancelled: queue shutting down"
)

// FinishReason describes why a generation terminated.
type FinishReason struct {
	Description string
}

// Stopped builds a FinishReason with the given human readable cause.
func Stopped(description string) FinishReason {
	return FinishReason{Description: description}
}

func (r FinishReason) String() string { return r.Description }

// IsZero reports whether r carries no reason.
func (r FinishReason) IsZero() bool { return r.Description == "" }

// DecodeState is the view of the current generation handed to each Stopper
// after a decode step.
type DecodeState struct {
	// TokenIDs holds the ids produced by the most recent step, in order.
	TokenIDs []int
	// Delta is the text produced by the most recent step.
	Delta string
	// TokenCount is the running total of generated tokens, this step included.
	TokenCount int
}

// Stopper decides, once per decode step, whether generation should end.
type Stopper interface {
	ShouldStop(st *DecodeState) (FinishReason, bool)
}

// Pipeline evaluates an ordered list of stoppers and reports the first hit.
type Pipeline struct {
	stoppers []Stopper
}

// NewPipeline returns a pipeline over the given stoppers. Nil entries are
// skipped. The order is fixed for the life of the pipeline.
func NewPipeline(stoppers ...Stopper) *Pipeline {
	p := &Pipeline{stoppers: make([]Stopper, 0, len(stoppers))}
	for _, s := range stoppers {
		if s != nil {
			p.stoppers = append(p.stoppers, s)
		}
	}
	return p
}

// ShouldStop consults each stopper in order and short-circuits on the first
// that fires.
func (p *Pipeline) ShouldStop(st *DecodeState) (FinishReason, bool) {
	for _, s := range p.stoppers {
		if r, ok := s.ShouldStop(st); ok {
			return r, true
		}
	}
	return FinishReason{}, false
}

// Len returns the number of stoppers in the pipeline.
func (p *Pipeline) Len() int { return len(p.stoppers) }
