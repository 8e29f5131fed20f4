package transcribe

import (
	"encoding/binary"
	"math"
)

// Level is the RMS amplitude of 16-bit little-endian PCM, normalised to
// [0,1]. A trailing odd byte is ignored.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
		sum += s * s
	}
	return math.Min(1, math.Sqrt(sum/float64(n)))
}
