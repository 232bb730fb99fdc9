package slcan

import "testing"

func TestClosestBitrateIndex(t *testing.T) {
	cases := map[uint32]int{
		10_000:     0,
		123_000:    4, // nearest to 125000
		500_000:    6,
		1_000_000:  8,
		2_000_000:  8, // clamps to the fastest supported entry
	}
	for bitrate, want := range cases {
		if got := closestBitrateIndex(bitrate); got != want {
			t.Errorf("closestBitrateIndex(%d) = %d, want %d", bitrate, got, want)
		}
	}
}
