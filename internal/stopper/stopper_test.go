package stopper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// feed pushes text through s one rune per step and returns the step index
// (1-based, in runes) at which s fired, or 0.
func feed(s Stopper, text string) (int, FinishReason) {
	st := &DecodeState{}
	i := 0
	for _, c := range text {
		i++
		st.TokenIDs = []int{int(c)}
		st.Delta = string(c)
		st.TokenCount = i
		if r, ok := s.ShouldStop(st); ok {
			return i, r
		}
	}
	return 0, FinishReason{}
}

func TestEOSStopper(t *testing.T) {
	s := NewEOS(2)
	_, ok := s.ShouldStop(&DecodeState{})
	require.False(t, ok, "empty step must not fire")
	_, ok = s.ShouldStop(&DecodeState{TokenIDs: []int{5, 7}})
	require.False(t, ok)
	r, ok := s.ShouldStop(&DecodeState{TokenIDs: []int{5, 2}})
	require.True(t, ok)
	require.Equal(t, ReasonEOS, r.Description)
	// EOS in the middle of a step is not the most recent token
	_, ok = s.ShouldStop(&DecodeState{TokenIDs: []int{2, 5}})
	require.False(t, ok)
}

func TestMaxTokensCountsActualTokens(t *testing.T) {
	s := NewMaxTokens(5)
	_, ok := s.ShouldStop(&DecodeState{TokenIDs: []int{1, 2}})
	require.False(t, ok)
	require.Equal(t, 2, s.Count())
	_, ok = s.ShouldStop(&DecodeState{})
	require.False(t, ok)
	require.Equal(t, 3, s.Remaining())
	r, ok := s.ShouldStop(&DecodeState{TokenIDs: []int{3, 4, 5, 6}})
	require.True(t, ok)
	require.Equal(t, ReasonMaxTokens, r.Description)
	require.Equal(t, 5, s.Count(), "count must never overshoot the maximum")
}

func TestRepetitionFiresAtThirdBoundary(t *testing.T) {
	s, err := NewRepetition(Config{WindowSize: 64, MinPatternLength: 4, MaxPatternLength: 4, MinRepetitions: 3})
	require.NoError(t, err)
	at, r := feed(s, "abcdabcdabcdabcd")
	require.Equal(t, 12, at)
	require.Equal(t, "Repetition detected: abcd repeated 3 times", r.Description)
}

func TestRepetitionShortestPatternWins(t *testing.T) {
	s, err := NewRepetition(Config{WindowSize: 64, MinPatternLength: 1, MaxPatternLength: 8, MinRepetitions: 4})
	require.NoError(t, err)
	// "aaaa" is both 4x"a" and 2x"aa"; only length 1 meets the threshold
	// and it must be reported rather than any longer candidate.
	at, r := feed(s, "xyaaaa")
	require.Equal(t, 6, at)
	require.Equal(t, "Repetition detected: a repeated 4 times", r.Description)
}

func TestRepetitionIgnoresNonConsecutive(t *testing.T) {
	s, err := NewRepetition(Config{WindowSize: 64, MinPatternLength: 3, MaxPatternLength: 3, MinRepetitions: 2})
	require.NoError(t, err)
	at, _ := feed(s, "abcXabcYabcZ")
	require.Equal(t, 0, at)
}

func TestRepetitionWindowIsBounded(t *testing.T) {
	for _, w := range []int{1, 7, 64, 300} {
		s, err := NewRepetition(Config{WindowSize: w, MinPatternLength: 1, MaxPatternLength: 1, MinRepetitions: 2})
		if w < 2 {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		// distinct neighbours never trigger a length-1 repetition
		text := strings.Repeat("ab", 50*w)
		for _, c := range text {
			_, ok := s.ShouldStop(&DecodeState{TokenIDs: []int{0}, Delta: string(c)})
			require.False(t, ok)
			require.LessOrEqual(t, s.WindowLen(), w)
		}
		require.Equal(t, w, s.WindowLen())
		require.True(t, strings.HasSuffix(text, s.Window()))
	}
}

func TestRepetitionMultiRuneDelta(t *testing.T) {
	s, err := NewRepetition(Config{WindowSize: 32, MinPatternLength: 2, MaxPatternLength: 6, MinRepetitions: 3})
	require.NoError(t, err)
	_, ok := s.ShouldStop(&DecodeState{TokenIDs: []int{1}, Delta: "héhé"})
	require.False(t, ok)
	r, ok := s.ShouldStop(&DecodeState{TokenIDs: []int{1}, Delta: "hé"})
	require.True(t, ok)
	require.Equal(t, "Repetition detected: hé repeated 3 times", r.Description)
}

func TestStopSequenceAcrossSteps(t *testing.T) {
	s := NewStopSequences([]string{"", "END"})
	require.NotNil(t, s)
	for _, d := range []string{"the ", "story E"} {
		_, ok := s.ShouldStop(&DecodeState{Delta: d})
		require.False(t, ok)
	}
	r, ok := s.ShouldStop(&DecodeState{Delta: "ND."})
	require.True(t, ok)
	require.Equal(t, "Stop sequence detected: END", r.Description)
	require.Nil(t, NewStopSequences([]string{""}))
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"reps below two", Config{WindowSize: 10, MinPatternLength: 1, MaxPatternLength: 2, MinRepetitions: 1}, "min_repetitions"},
		{"min above max", Config{WindowSize: 10, MinPatternLength: 4, MaxPatternLength: 2, MinRepetitions: 2}, "min_pattern_length"},
		{"zero pattern", Config{WindowSize: 10, MinPatternLength: 0, MaxPatternLength: 2, MinRepetitions: 2}, "min_pattern_length"},
		{"window too small", Config{WindowSize: 5, MinPatternLength: 3, MaxPatternLength: 3, MinRepetitions: 2}, "window_size"},
		{"negative max tokens", Config{MaxTokens: -1}, "max_tokens"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.cfg, 2)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.field, ce.Field)
		})
	}
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{}.Validate(), "zero config disables optional stoppers")
}

func TestPipelineOrderAndShortCircuit(t *testing.T) {
	p, err := Build(Config{MaxTokens: 1, Stop: []string{"x"}}, 2)
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())
	// EOS and the token cap both apply; the cheaper EOS check reports first
	r, ok := p.ShouldStop(&DecodeState{TokenIDs: []int{2}, Delta: "x", TokenCount: 1})
	require.True(t, ok)
	require.Equal(t, ReasonEOS, r.Description)

	p, err = Build(Config{}, -1)
	require.NoError(t, err)
	require.Equal(t, 0, p.Len())
	_, ok = p.ShouldStop(&DecodeState{TokenIDs: []int{2}})
	require.False(t, ok)
}

func TestTrimStop(t *testing.T) {
	got, ok := TrimStop("one END two STOP", []string{"STOP", "", "END"})
	require.True(t, ok)
	require.Equal(t, "one ", got)

	got, ok = TrimStop("nothing here", []string{"END"})
	require.False(t, ok)
	require.Equal(t, "nothing here", got)
}

func TestPendingStopLen(t *testing.T) {
	stops := []string{"</s>", "END"}
	require.Equal(t, 0, PendingStopLen("hello", stops))
	require.Equal(t, 2, PendingStopLen("hello</", stops))
	require.Equal(t, 2, PendingStopLen("hi EN", stops))
	// a complete stop string is not pending; TrimStop handles it
	require.Equal(t, 0, PendingStopLen("xEND", []string{"END"}))
	require.Equal(t, 0, PendingStopLen("", stops))
}
