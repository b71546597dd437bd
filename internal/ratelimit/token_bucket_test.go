package ratelimit

import (
	"testing"
	"time"
)

func TestDefaultBucketTTL(t *testing.T) {
	cases := []struct {
		name  string
		rate  float64
		burst int
		want  time.Duration
	}{
		{name: "one per second", rate: 1, burst: 5, want: 10 * time.Second},
		{name: "sub second refill", rate: 10, burst: 1, want: 1 * time.Second},
		{name: "invalid rate", rate: 0, burst: 5, want: time.Second},
		{name: "invalid burst", rate: 1, burst: 0, want: time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := defaultBucketTTL(tc.rate, tc.burst); got != tc.want {
				t.Fatalf("defaultBucketTTL(%v, %d) = %v, want %v", tc.rate, tc.burst, got, tc.want)
			}
		})
	}
}

func TestCastHelpers(t *testing.T) {
	if got := castToInt(int64(3)); got != 3 {
		t.Fatalf("castToInt(int64) = %d", got)
	}
	if got := castToInt(2.9); got != 2 {
		t.Fatalf("castToInt(float64) = %d", got)
	}
	if got := castToFloat(int64(4)); got != 4 {
		t.Fatalf("castToFloat(int64) = %v", got)
	}
	if got := castToFloat("nope"); got != 0 {
		t.Fatalf("castToFloat(string) = %v", got)
	}
}

func TestNilBucketDisallows(t *testing.T) {
	var tb *TokenBucket
	res, err := tb.Allow(t.Context(), "k", 1, 1)
	if err == nil {
		t.Fatal("expected error from unconfigured bucket")
	}
	if res.Allowed {
		t.Fatal("unconfigured bucket must not allow")
	}
}
