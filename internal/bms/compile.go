package bms

import "sort"

// Bytes per frame in compiled payload, Data[0] is sequence index.
const FramePayload = 7

// Compile orders frames by sequence index (stable) and concatenates Data[1:8].
// Sequence completeness is not validated: duplicate or missing indexes
// produce a buffer of the right length with wrong content.
func Compile(frames []Frame) []byte {
	buf, _ := compile(frames)
	return buf
}

// compile also returns timestamp of the last frame in sorted order.
func compile(frames []Frame) ([]byte, float64) {
	sorted := make([]Frame, len(frames))
	copy(sorted, frames)
	sort.SliceStable(sorted, func(i, j int) bool { return sequenceLess(sorted[i], sorted[j]) })

	buf := make([]byte, 0, len(sorted)*FramePayload)
	for _, f := range sorted {
		buf = append(buf, f.Data[1:8]...)
	}
	var last float64
	if len(sorted) != 0 {
		last = sorted[len(sorted)-1].Timestamp
	}
	return buf, last
}

func sequenceLess(a, b Frame) bool { return a.Data[0] < b.Data[0] }
