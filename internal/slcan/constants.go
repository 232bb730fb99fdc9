// Package slcan implements the SLCAN ASCII line protocol spoken by serial
// CAN adapters: line-based commands and t/T/J frame grammars over a
// carriage-return-terminated byte stream.
package slcan

import "time"

const (
	defaultBaud = 115200

	readLoopTimeout  = 50 * time.Millisecond
	probeTimeout     = 500 * time.Millisecond
	versionLineWait  = 20 * time.Millisecond

	minMeasuredBitrate = 5000
)

// bitrateTable maps the Sn bitrate-select digit to bits/sec, per the SLCAN
// standard bitrate table.
var bitrateTable = [...]uint32{10_000, 20_000, 50_000, 100_000, 125_000, 250_000, 500_000, 800_000, 1_000_000}

// closestBitrateIndex returns the index into bitrateTable whose rate is
// nearest to bitrate.
func closestBitrateIndex(bitrate uint32) int {
	best := 0
	bestDiff := diffU32(bitrateTable[0], bitrate)
	for i := 1; i < len(bitrateTable); i++ {
		d := diffU32(bitrateTable[i], bitrate)
		if d < bestDiff {
			best = i
			bestDiff = d
		}
	}
	return best
}

func diffU32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
