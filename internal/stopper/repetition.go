package stopper

import "fmt"

// runeRing is a fixed-capacity ring of runes. Appending to a full ring evicts
// the oldest rune.
type runeRing struct {
	data  []rune
	start int
	n     int
}

func newRuneRing(capacity int) *runeRing {
	return &runeRing{data: make([]rune, capacity)}
}

func (r *runeRing) push(c rune) {
	if r.n < len(r.data) {
		r.data[(r.start+r.n)%len(r.data)] = c
		r.n++
		return
	}
	r.data[r.start] = c
	r.start = (r.start + 1) % len(r.data)
}

// at returns the i-th oldest rune.
func (r *runeRing) at(i int) rune { return r.data[(r.start+i)%len(r.data)] }

func (r *runeRing) len() int { return r.n }

func (r *runeRing) slice(from, to int) string {
	out := make([]rune, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, r.at(i))
	}
	return string(out)
}

// equal reports whether the runes in [a, a+l) match those in [b, b+l).
func (r *runeRing) equal(a, b, l int) bool {
	for i := 0; i < l; i++ {
		if r.at(a+i) != r.at(b+i) {
			return false
		}
	}
	return true
}

// RepetitionStopper detects generation loops: the same substring repeated
// back to back at the end of the recent output. Only the last WindowSize
// runes are kept.
type RepetitionStopper struct {
	minLen  int
	maxLen  int
	minReps int
	window  *runeRing
}

// NewRepetition validates the repetition settings of cfg and returns a
// stopper with an empty window.
func NewRepetition(cfg Config) (*RepetitionStopper, error) {
	if err := cfg.validateRepetition(); err != nil {
		return nil, err
	}
	return &RepetitionStopper{
		minLen:  cfg.MinPatternLength,
		maxLen:  cfg.MaxPatternLength,
		minReps: cfg.MinRepetitions,
		window:  newRuneRing(cfg.WindowSize),
	}, nil
}

func (s *RepetitionStopper) ShouldStop(st *DecodeState) (FinishReason, bool) {
	if st.Delta == "" {
		return FinishReason{}, false
	}
	for _, c := range st.Delta {
		s.window.push(c)
	}
	// shortest pattern first: a short loop is the earliest to show up
	n := s.window.len()
	for l := s.minLen; l <= s.maxLen && l <= n; l++ {
		tail := n - l
		count := 1
		for pos := tail - l; pos >= 0; pos -= l {
			if !s.window.equal(pos, tail, l) {
				break
			}
			count++
		}
		if count >= s.minReps {
			pattern := s.window.slice(tail, n)
			return Stopped(fmt.Sprintf("Repetition detected: %s repeated %d times", pattern, count)), true
		}
	}
	return FinishReason{}, false
}

// WindowLen returns the number of runes currently held.
func (s *RepetitionStopper) WindowLen() int { return s.window.len() }

// Window returns the current window contents, oldest first.
func (s *RepetitionStopper) Window() string { return s.window.slice(0, s.window.len()) }
