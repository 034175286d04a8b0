package utils

import "math"

func fieldMask(bitLen int) uint64 {
	if bitLen >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << bitLen) - 1
}

// pack writes the physical value v into payload, scaling, clamping and
// two's-complementing as the signal describes.
func (s SignalDef) pack(payload uint64, v float64) uint64 {
	v = clamp(v, s.Min, s.Max)
	raw := s.clampRaw(int64(math.Round((v - s.Offset) / s.Factor)))
	mask := fieldMask(s.BitLength)
	payload &^= mask << s.StartBit
	payload |= (uint64(raw) & mask) << s.StartBit
	return payload
}

// unpack reads the physical value of the signal out of payload.
func (s SignalDef) unpack(payload uint64) float64 {
	mask := fieldMask(s.BitLength)
	u := (payload >> s.StartBit) & mask
	raw := int64(u)
	if s.Signed && s.BitLength < 64 && u&(uint64(1)<<(s.BitLength-1)) != 0 {
		raw = int64(u | ^mask)
	}
	return float64(raw)*s.Factor + s.Offset
}

func (s SignalDef) clampRaw(raw int64) int64 {
	if s.BitLength <= 0 || s.BitLength > 63 {
		return raw
	}
	var lo, hi int64
	if s.Signed {
		lo = -int64(1) << (s.BitLength - 1)
		hi = int64(1)<<(s.BitLength-1) - 1
	} else {
		hi = int64(1)<<s.BitLength - 1
	}
	if raw < lo {
		return lo
	}
	if raw > hi {
		return hi
	}
	return raw
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
