package httpapi

import (
	"testing"
	"time"

	"genserve/internal/stopper"
	"genserve/pkg/types"
)

func TestSetMaxBodyBytes(t *testing.T) {
	defer SetMaxBodyBytes(0)
	for _, tc := range []struct{ in, want int64 }{{-1, 1 << 20}, {0, 1 << 20}, {1234, 1234}} {
		SetMaxBodyBytes(tc.in)
		if maxBodyBytes != tc.want {
			t.Fatalf("SetMaxBodyBytes(%d): got %d, want %d", tc.in, maxBodyBytes, tc.want)
		}
	}
}

func TestSetMaxTimeoutCapsRequests(t *testing.T) {
	defer SetMaxTimeout(0)
	def := stopper.DefaultConfig()
	cases := []struct {
		limit, asked int64
		want         time.Duration
	}{
		{0, 0, 0},
		{0, 5000, 5 * time.Second},
		{1000, 0, time.Second},
		{1000, 500, 500 * time.Millisecond},
		{1000, 9000, time.Second},
		{-5, 300, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		SetMaxTimeout(tc.limit)
		g := toGenerationRequest(types.GenerateRequest{Prompt: "p", TimeoutMS: tc.asked}, def)
		if g.Timeout != tc.want {
			t.Fatalf("limit=%d asked=%d: timeout %v, want %v", tc.limit, tc.asked, g.Timeout, tc.want)
		}
	}
}
