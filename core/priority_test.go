package core

import "testing"

// TestClampPriority_MapsArbitraryValuesToNearestTier
// Given: priority values both inside and outside the legal {Low,Normal,High} set
// When: ClampPriority is applied
// Then: values below Normal clamp to Low, values in [Normal,High) clamp to Normal, everything else clamps to High
func TestClampPriority_MapsArbitraryValuesToNearestTier(t *testing.T) {
	cases := []struct {
		in   TaskPriority
		want TaskPriority
	}{
		{TaskPriority(-5), PriorityLow},
		{PriorityLow, PriorityLow},
		{PriorityNormal, PriorityNormal},
		{PriorityHigh, PriorityHigh},
		{TaskPriority(99), PriorityHigh},
	}
	for _, c := range cases {
		if got := ClampPriority(c.in); got != c.want {
			t.Errorf("ClampPriority(%d) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTaskPriority_String(t *testing.T) {
	if PriorityLow.String() != "low" || PriorityNormal.String() != "normal" || PriorityHigh.String() != "high" {
		t.Fatal("unexpected TaskPriority.String() output")
	}
}
