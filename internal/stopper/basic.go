package stopper

import (
	"fmt"
	"strings"
)

// EOSStopper fires when the last token of a step is the end-of-sequence id.
type EOSStopper struct {
	id int
}

func NewEOS(id int) *EOSStopper { return &EOSStopper{id: id} }

func (s *EOSStopper) ShouldStop(st *DecodeState) (FinishReason, bool) {
	n := len(st.TokenIDs)
	if n == 0 {
		return FinishReason{}, false
	}
	if st.TokenIDs[n-1] == s.id {
		return Stopped(ReasonEOS), true
	}
	return FinishReason{}, false
}

// MaxTokensStopper counts produced tokens and fires once the configured
// maximum is reached. The counter advances by the number of tokens in each
// step, not by the number of calls.
type MaxTokensStopper struct {
	max   int
	count int
}

func NewMaxTokens(max int) *MaxTokensStopper { return &MaxTokensStopper{max: max} }

func (s *MaxTokensStopper) ShouldStop(st *DecodeState) (FinishReason, bool) {
	s.count += len(st.TokenIDs)
	if s.count >= s.max {
		// callers trim the final step to the budget; clamp in case one did not
		s.count = s.max
		return Stopped(ReasonMaxTokens), true
	}
	return FinishReason{}, false
}

// Count returns the tokens seen so far, never more than the maximum.
func (s *MaxTokensStopper) Count() int { return s.count }

// Remaining returns how many tokens may still be produced.
func (s *MaxTokensStopper) Remaining() int { return s.max - s.count }

// StopSequenceStopper fires when the generated text contains any of the
// configured stop strings. Only a short tail of the output is retained, long
// enough for a stop string to straddle two steps.
type StopSequenceStopper struct {
	stops []string
	keep  int
	tail  string
}

func NewStopSequences(stops []string) *StopSequenceStopper {
	s := &StopSequenceStopper{}
	for _, stop := range stops {
		if stop == "" {
			continue
		}
		s.stops = append(s.stops, stop)
		if len(stop) > s.keep {
			s.keep = len(stop)
		}
	}
	if len(s.stops) == 0 {
		return nil
	}
	return s
}

func (s *StopSequenceStopper) ShouldStop(st *DecodeState) (FinishReason, bool) {
	if st.Delta == "" {
		return FinishReason{}, false
	}
	s.tail += st.Delta
	for _, stop := range s.stops {
		if strings.Contains(s.tail, stop) {
			return Stopped(fmt.Sprintf("Stop sequence detected: %s", stop)), true
		}
	}
	if len(s.tail) > s.keep-1 {
		s.tail = s.tail[len(s.tail)-(s.keep-1):]
	}
	return FinishReason{}, false
}

// TrimStop cuts text at the earliest occurrence of any stop string. It
// reports whether a stop string was found.
func TrimStop(text string, stops []string) (string, bool) {
	cut := -1
	for _, stop := range stops {
		if stop == "" {
			continue
		}
		if i := strings.Index(text, stop); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return text, false
	}
	return text[:cut], true
}

// PendingStopLen returns the length of the longest suffix of text that is a
// proper prefix of some stop string. Streamed output holds that suffix back
// until the next step decides whether it completes a stop string.
func PendingStopLen(text string, stops []string) int {
	longest := 0
	for _, stop := range stops {
		for n := min(len(stop)-1, len(text)); n > longest; n-- {
			if strings.HasSuffix(text, stop[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}
