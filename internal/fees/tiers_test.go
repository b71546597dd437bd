package fees

import (
	"errors"
	"testing"
)

func TestResolveBulkPriceBoundaries(t *testing.T) {
	calc := testCalculator()

	cases := []struct {
		count int
		want  int64
	}{
		{count: 1, want: 1000},
		{count: 5, want: 1000},
		{count: 6, want: 2500},
		{count: 20, want: 2500},
		{count: 21, want: 4000},
		{count: 100, want: 4000},
	}

	for _, tc := range cases {
		got, err := calc.ResolveBulkPrice(tc.count)
		if err != nil {
			t.Fatalf("ResolveBulkPrice(%d): %v", tc.count, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveBulkPrice(%d) = %d, want %d", tc.count, got, tc.want)
		}
	}
}

func TestResolveBulkPriceRejectsZero(t *testing.T) {
	calc := testCalculator()

	if _, err := calc.ResolveBulkPrice(0); !errors.Is(err, ErrNoTierForCount) {
		t.Fatalf("err = %v, want ErrNoTierForCount", err)
	}
}

func TestUnlockAllPrice(t *testing.T) {
	calc := testCalculator()

	if got := calc.UnlockAllPrice(); got != 4900 {
		t.Fatalf("UnlockAllPrice() = %d, want 4900", got)
	}
}
