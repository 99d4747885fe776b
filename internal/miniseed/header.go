// Package miniseed implements a streaming MiniSEED encoder: Steim1/Steim2
// differential compression and uncompressed packing into fixed-size,
// bit-exact SEED records.
package miniseed

import (
	"encoding/binary"
	"fmt"
)

// FixedHeaderSize is the length in bytes of every record's fixed section
// (spec.md §4.6.2).
const FixedHeaderSize = 48

// BlocketteSize is the length in bytes of blockette 1000 and blockette 1001
// alike; both happen to be 8 bytes.
const BlocketteSize = 8

// DefaultSizeExponent yields the default 512-byte record (2^9).
const DefaultSizeExponent = 9

// FixedHeader is the bit-exact layout of a SEED record's first 48 bytes.
type FixedHeader struct {
	SequenceNumber int // rendered as 6 ASCII digits
	Quality        byte
	Station        string // space-padded to 5
	Location       string // space-padded to 2
	Channel        string // space-padded to 3
	Network        string // space-padded to 2

	Year           uint16
	DayOfYear      uint16 // 1-based
	Hour           uint8
	Minute         uint8
	Second         uint8
	FracTenTh      uint16 // fractional seconds, ten-thousandths
	SampleCount    uint16
	RateFactor     int16
	RateMultiplier int16
	ActivityFlags  uint8
	IOFlags        uint8
	DataQualFlags  uint8
	BlocketteCount uint8
	TimeCorrection int32
	DataOffset     uint16
	FirstBlockette uint16
}

func padTo(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	pad := make([]byte, n-len(s))
	for i := range pad {
		pad[i] = ' '
	}
	return s + string(pad)
}

// Encode renders the fixed header into a 48-byte big-endian buffer.
func (h *FixedHeader) Encode() []byte {
	buf := make([]byte, FixedHeaderSize)
	seq := fmt.Sprintf("%06d", h.SequenceNumber%1000000)
	copy(buf[0:6], seq)
	buf[6] = h.Quality
	buf[7] = 0 // reserved
	copy(buf[8:13], padTo(h.Station, 5))
	copy(buf[13:15], padTo(h.Location, 2))
	copy(buf[15:18], padTo(h.Channel, 3))
	copy(buf[18:20], padTo(h.Network, 2))

	binary.BigEndian.PutUint16(buf[20:22], h.Year)
	binary.BigEndian.PutUint16(buf[22:24], h.DayOfYear)
	buf[24] = h.Hour
	buf[25] = h.Minute
	buf[26] = h.Second
	buf[27] = 0 // unused
	binary.BigEndian.PutUint16(buf[28:30], h.FracTenTh)
	binary.BigEndian.PutUint16(buf[30:32], h.SampleCount)
	binary.BigEndian.PutUint16(buf[32:34], uint16(h.RateFactor))
	binary.BigEndian.PutUint16(buf[34:36], uint16(h.RateMultiplier))
	buf[36] = h.ActivityFlags
	buf[37] = h.IOFlags
	buf[38] = h.DataQualFlags
	buf[39] = h.BlocketteCount
	binary.BigEndian.PutUint32(buf[40:44], uint32(h.TimeCorrection))
	binary.BigEndian.PutUint16(buf[44:46], h.DataOffset)
	binary.BigEndian.PutUint16(buf[46:48], h.FirstBlockette)
	return buf
}

// DecodeFixedHeader parses a 48-byte buffer into a FixedHeader.
func DecodeFixedHeader(buf []byte) (*FixedHeader, error) {
	if len(buf) < FixedHeaderSize {
		return nil, fmt.Errorf("miniseed: short fixed header (%d bytes)", len(buf))
	}
	h := &FixedHeader{
		Quality:  buf[6],
		Station:  trimPad(buf[8:13]),
		Location: trimPad(buf[13:15]),
		Channel:  trimPad(buf[15:18]),
		Network:  trimPad(buf[18:20]),

		Year:           binary.BigEndian.Uint16(buf[20:22]),
		DayOfYear:      binary.BigEndian.Uint16(buf[22:24]),
		Hour:           buf[24],
		Minute:         buf[25],
		Second:         buf[26],
		FracTenTh:      binary.BigEndian.Uint16(buf[28:30]),
		SampleCount:    binary.BigEndian.Uint16(buf[30:32]),
		RateFactor:     int16(binary.BigEndian.Uint16(buf[32:34])),
		RateMultiplier: int16(binary.BigEndian.Uint16(buf[34:36])),
		ActivityFlags:  buf[36],
		IOFlags:        buf[37],
		DataQualFlags:  buf[38],
		BlocketteCount: buf[39],
		TimeCorrection: int32(binary.BigEndian.Uint32(buf[40:44])),
		DataOffset:     binary.BigEndian.Uint16(buf[44:46]),
		FirstBlockette: binary.BigEndian.Uint16(buf[46:48]),
	}
	var seq int
	fmt.Sscanf(string(buf[0:6]), "%d", &seq)
	h.SequenceNumber = seq
	return h, nil
}

func trimPad(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return string(b[:i])
}

// Blockette1000 describes the record's data encoding.
type Blockette1000 struct {
	NextOffset      uint16
	EncodingCode    uint8
	WordSwap        uint8 // 1 = big-endian
	SizeExponent    uint8
}

func (b *Blockette1000) Encode() []byte {
	buf := make([]byte, BlocketteSize)
	binary.BigEndian.PutUint16(buf[0:2], 1000)
	binary.BigEndian.PutUint16(buf[2:4], b.NextOffset)
	buf[4] = b.EncodingCode
	buf[5] = b.WordSwap
	buf[6] = b.SizeExponent
	buf[7] = 0
	return buf
}

func DecodeBlockette1000(buf []byte) (*Blockette1000, error) {
	if len(buf) < BlocketteSize {
		return nil, fmt.Errorf("miniseed: short blockette 1000")
	}
	if typ := binary.BigEndian.Uint16(buf[0:2]); typ != 1000 {
		return nil, fmt.Errorf("miniseed: expected blockette 1000, got %d", typ)
	}
	return &Blockette1000{
		NextOffset:   binary.BigEndian.Uint16(buf[2:4]),
		EncodingCode: buf[4],
		WordSwap:     buf[5],
		SizeExponent: buf[6],
	}, nil
}

// Blockette1001 carries timing quality metadata.
type Blockette1001 struct {
	NextOffset        uint16
	TimingQuality     uint8 // 0-100
	MicrosecondRemain int8
	FrameCount        uint8
}

func (b *Blockette1001) Encode() []byte {
	buf := make([]byte, BlocketteSize)
	binary.BigEndian.PutUint16(buf[0:2], 1001)
	binary.BigEndian.PutUint16(buf[2:4], b.NextOffset)
	buf[4] = b.TimingQuality
	buf[5] = byte(b.MicrosecondRemain)
	buf[6] = 0
	buf[7] = b.FrameCount
	return buf
}

func DecodeBlockette1001(buf []byte) (*Blockette1001, error) {
	if len(buf) < BlocketteSize {
		return nil, fmt.Errorf("miniseed: short blockette 1001")
	}
	if typ := binary.BigEndian.Uint16(buf[0:2]); typ != 1001 {
		return nil, fmt.Errorf("miniseed: expected blockette 1001, got %d", typ)
	}
	return &Blockette1001{
		NextOffset:        binary.BigEndian.Uint16(buf[2:4]),
		TimingQuality:     buf[4],
		MicrosecondRemain: int8(buf[5]),
		FrameCount:        buf[7],
	}, nil
}

// align64 rounds n up to the next multiple of 64, matching the data
// region's alignment rule.
func align64(n int) int {
	return ((n + 63) / 64) * 64
}

// RateFactorMultiplier encodes the rational sample rate freqN/freqD per
// spec.md §4.6.2's three-case rule.
func RateFactorMultiplier(freqN, freqD int64) (int16, int16) {
	if freqD != 0 && freqN%freqD == 0 {
		return int16(freqN / freqD), 1
	}
	if freqN != 0 && freqD%freqN == 0 {
		return int16(-(freqD / freqN)), 1
	}
	return int16(-freqD), int16(freqN)
}
