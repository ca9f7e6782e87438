package netstats

import "testing"

func TestIsValidHashrateNoHistory(t *testing.T) {
	for _, v := range []float64{0, -1, 1e12} {
		if !IsValidHashrate(v, nil, DefaultThreshold) {
			t.Fatalf("value %v should be valid without history", v)
		}
	}
}

func TestIsValidHashrateSinglePrevious(t *testing.T) {
	cases := []struct {
		name    string
		current float64
		prev    float64
		want    bool
	}{
		{"exact upper boundary", 150, 100, true},
		{"exact lower boundary", 50, 100, true},
		{"just above boundary", 150.0001, 100, false},
		{"just below boundary", 49.9999, 100, false},
		{"zero previous always valid", 1e9, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidHashrate(tc.current, []float64{tc.prev}, DefaultThreshold); got != tc.want {
				t.Fatalf("IsValidHashrate(%v, [%v]) = %v, want %v", tc.current, tc.prev, got, tc.want)
			}
		})
	}
}

func TestIsValidHashrateRatioJustOverHalfFails(t *testing.T) {
	if IsValidHashrate(1500001, []float64{1000000}, DefaultThreshold) {
		t.Fatal("ratio 0.500001 must fail")
	}
}

func TestIsValidHashrateTrimsExtremes(t *testing.T) {
	history := []float64{10, 100, 12, 11}
	// Trimmed base is mean(11, 12) = 11.5; untrimmed mean would be 33.25.
	if !IsValidHashrate(12, history, DefaultThreshold) {
		t.Fatal("12 should validate against the trimmed base of 11.5")
	}
	if IsValidHashrate(30, history, DefaultThreshold) {
		t.Fatal("30 should fail against the trimmed base even though it is near the untrimmed mean")
	}
	if history[0] != 10 || history[1] != 100 {
		t.Fatal("history must not be reordered in place")
	}
}

func TestIsValidHashrateTwoValuesNotTrimmed(t *testing.T) {
	// mean(100, 200) = 150; 220 is within 50%.
	if !IsValidHashrate(220, []float64{100, 200}, DefaultThreshold) {
		t.Fatal("220 should validate against mean 150")
	}
	if !IsValidHashrate(5, []float64{0, 0}, DefaultThreshold) {
		t.Fatal("zero average should always validate")
	}
}
