package transcribe

import (
	"encoding/binary"
	"io"
)

const (
	wavHeaderSize  = 44
	bitsPerSample  = 16
	pcmFormat      = 1
	fmtChunkLength = 16
)

// writeWAV writes a canonical RIFF/WAVE file around the PCM samples.
func writeWAV(w io.Writer, a Audio) error {
	data := a.Samples[:len(a.Samples)&^1]
	blockAlign := a.Channels * bitsPerSample / 8

	var h [wavHeaderSize]byte
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], uint32(wavHeaderSize-8+len(data)))
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], fmtChunkLength)
	binary.LittleEndian.PutUint16(h[20:], pcmFormat)
	binary.LittleEndian.PutUint16(h[22:], uint16(a.Channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(a.SampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(a.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:], bitsPerSample)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], uint32(len(data)))

	if _, err := w.Write(h[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
