package gsusb

import (
	"encoding/binary"
	"fmt"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
)

// BitTimingConstraints describes the adapter's BT_CONST/BT_CONST_EXT
// response: the clock feeding the CAN controller and the legal ranges for
// each bit-timing parameter.
type BitTimingConstraints struct {
	Feature  uint32
	FclkCan  uint32
	Tseg1Min uint32
	Tseg1Max uint32
	Tseg2Min uint32
	Tseg2Max uint32
	SjwMax   uint32
	BrpMin   uint32
	BrpMax   uint32
	BrpInc   uint32
}

// ParseBtConst decodes a 40-byte BT_CONST (or the first 40 bytes of a
// BT_CONST_EXT) response: a leading feature word followed by nine
// little-endian u32 timing fields.
func ParseBtConst(b []byte) (BitTimingConstraints, error) {
	if len(b) < 40 {
		return BitTimingConstraints{}, fmt.Errorf("gsusb: BT_CONST too short (%d bytes): %w", len(b), candriver.ErrProtocol)
	}
	le32 := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i : i+4]) }
	return BitTimingConstraints{
		Feature:  le32(0),
		FclkCan:  le32(4),
		Tseg1Min: le32(8),
		Tseg1Max: le32(12),
		Tseg2Min: le32(16),
		Tseg2Max: le32(20),
		SjwMax:   le32(24),
		BrpMin:   le32(28),
		BrpMax:   le32(32),
		BrpInc:   le32(36),
	}, nil
}

// BitTimingSolution is the set of parameters programmed into the adapter's
// BITTIMING control request.
type BitTimingSolution struct {
	PropSeg   uint32
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	SJW       uint32
	BRP       uint32
}

// ToBytes encodes the solution as the 20-byte little-endian BITTIMING
// payload: [prop_seg, phase_seg1, phase_seg2, sjw, brp].
func (s BitTimingSolution) ToBytes() [20]byte {
	var buf [20]byte
	binary.LittleEndian.PutUint32(buf[0:4], s.PropSeg)
	binary.LittleEndian.PutUint32(buf[4:8], s.PhaseSeg1)
	binary.LittleEndian.PutUint32(buf[8:12], s.PhaseSeg2)
	binary.LittleEndian.PutUint32(buf[12:16], s.SJW)
	binary.LittleEndian.PutUint32(buf[16:20], s.BRP)
	return buf
}

// CalcBitTiming searches the grid of legal (brp, tseg1, tseg2) triples for
// the candidate whose actual bitrate is closest to the target (rate error
// within 5%) and whose sample point is closest to the 87.5% target,
// preferring the first-seen candidate on a tie. Returns false if no
// candidate satisfies the rate-error bound.
func CalcBitTiming(bitrate uint32, c BitTimingConstraints) (BitTimingSolution, bool) {
	var best BitTimingSolution
	haveBest := false
	bestScore := 0.0

	// Note: brp_inc is reported by the adapter but the reference solver
	// searches every brp in range rather than stepping by it; preserved
	// here for parity with that behavior.
	for brp := c.BrpMin; brp <= c.BrpMax; brp++ {
		for tseg1 := c.Tseg1Min; tseg1 <= c.Tseg1Max; tseg1++ {
			for tseg2 := c.Tseg2Min; tseg2 <= c.Tseg2Max; tseg2++ {
				totalTq := 1 + tseg1 + tseg2
				actualBitrate := float64(c.FclkCan) / (float64(brp) * float64(totalTq))
				rateError := abs(actualBitrate-float64(bitrate)) / float64(bitrate)
				if rateError > 0.05 {
					continue
				}

				samplePoint := float64(1+tseg1) / float64(totalTq)
				sampleError := abs(samplePoint - targetSamplePoint)
				score := rateError*10.0 + sampleError

				var phaseSeg1 uint32
				if tseg1 > 1 {
					phaseSeg1 = tseg1 / 2
					if phaseSeg1 > c.Tseg1Max {
						phaseSeg1 = c.Tseg1Max
					}
				} else {
					phaseSeg1 = 1
				}
				if phaseSeg1 == 0 {
					phaseSeg1 = 1
				}

				var propSeg uint32
				if tseg1 > phaseSeg1 {
					propSeg = tseg1 - phaseSeg1
				}
				if propSeg == 0 {
					if phaseSeg1 > 1 {
						phaseSeg1--
						propSeg = 1
					} else {
						continue
					}
				}

				phaseSeg2 := tseg2
				sjw := c.SjwMax
				if phaseSeg2 < sjw {
					sjw = phaseSeg2
				}

				if !haveBest || score < bestScore {
					best = BitTimingSolution{
						PropSeg:   propSeg,
						PhaseSeg1: phaseSeg1,
						PhaseSeg2: phaseSeg2,
						SJW:       sjw,
						BRP:       brp,
					}
					bestScore = score
					haveBest = true
				}
			}
		}
	}

	return best, haveBest
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
