package miniseed

import "time"

// Encoding codes, as carried in blockette 1000 (spec.md §4.6.2).
const (
	EncodingInt16   uint8 = 1
	EncodingInt32   uint8 = 3
	EncodingFloat32 uint8 = 4
	EncodingFloat64 uint8 = 5
	EncodingSteim1  uint8 = 10
	EncodingSteim2  uint8 = 11
)

// RecordConfig carries the per-stream identity and rate fields shared by
// every record an encoder emits.
type RecordConfig struct {
	Station  string
	Location string
	Channel  string
	Network  string

	SizeExponent uint8 // defaults to DefaultSizeExponent (512-byte records)
	FreqN, FreqD int64

	IncludeBlockette1001 bool
	TimingQuality        uint8
}

func (c RecordConfig) sizeExponent() uint8 {
	if c.SizeExponent == 0 {
		return DefaultSizeExponent
	}
	return c.SizeExponent
}

func (c RecordConfig) recordSize() int {
	return 1 << c.sizeExponent()
}

// dataOffset returns the 64-byte-aligned start of the data region.
func (c RecordConfig) dataOffset() int {
	off := FixedHeaderSize + BlocketteSize
	if c.IncludeBlockette1001 {
		off += BlocketteSize
	}
	return align64(off)
}

// framesPerRecord is how many 64-byte Steim frames fit between the data
// offset and the end of the record.
func (c RecordConfig) framesPerRecord() int {
	n := (c.recordSize() - c.dataOffset()) / FrameSize
	if n < 1 {
		return 1
	}
	return n
}

// Record is a complete, bit-exact SEED record: fixed header, blockette
// 1000, an optional blockette 1001, and the data region.
type Record struct {
	Header        FixedHeader
	Blockette1000 Blockette1000
	Blockette1001 *Blockette1001
	Data          []byte
	SizeExponent  uint8
}

func buildRecord(cfg RecordConfig, seq int, start time.Time, sampleCount, frameCount int, encoding uint8, data []byte) *Record {
	sizeExp := cfg.sizeExponent()
	recSize := 1 << sizeExp
	dataOff := cfg.dataOffset()

	padded := make([]byte, recSize-dataOff)
	copy(padded, data)

	rateFactor, rateMultiplier := RateFactorMultiplier(cfg.FreqN, cfg.FreqD)

	h := FixedHeader{
		SequenceNumber: seq + 1,
		Quality:        'D',
		Station:        cfg.Station,
		Location:       cfg.Location,
		Channel:        cfg.Channel,
		Network:        cfg.Network,
		Year:           uint16(start.Year()),
		DayOfYear:      uint16(start.YearDay()),
		Hour:           uint8(start.Hour()),
		Minute:         uint8(start.Minute()),
		Second:         uint8(start.Second()),
		FracTenTh:      uint16(start.Nanosecond() / 100000),
		SampleCount:    uint16(sampleCount),
		RateFactor:     rateFactor,
		RateMultiplier: rateMultiplier,
		BlocketteCount: 1,
		DataOffset:     uint16(dataOff),
		FirstBlockette: FixedHeaderSize,
	}

	b1000 := Blockette1000{
		EncodingCode: encoding,
		WordSwap:     1,
		SizeExponent: sizeExp,
	}

	rec := &Record{Header: h, Blockette1000: b1000, Data: padded, SizeExponent: sizeExp}

	if cfg.IncludeBlockette1001 {
		h.BlocketteCount = 2
		rec.Header = h
		rec.Blockette1001 = &Blockette1001{
			TimingQuality: cfg.TimingQuality,
			FrameCount:    uint8(frameCount),
		}
	}
	return rec
}

// Bytes renders the record into its fixed-size wire form.
func (r *Record) Bytes() []byte {
	size := 1 << r.SizeExponent
	buf := make([]byte, size)

	off := FixedHeaderSize
	b1000 := r.Blockette1000
	if r.Blockette1001 != nil {
		b1000.NextOffset = uint16(off + BlocketteSize)
	} else {
		b1000.NextOffset = 0
	}
	h := r.Header
	h.DataOffset = uint16(dataOffsetFor(r))
	copy(buf[0:FixedHeaderSize], h.Encode())
	copy(buf[off:off+BlocketteSize], b1000.Encode())
	off += BlocketteSize

	if r.Blockette1001 != nil {
		b1001 := *r.Blockette1001
		b1001.NextOffset = 0
		copy(buf[off:off+BlocketteSize], b1001.Encode())
		off += BlocketteSize
	}

	dataOff := int(h.DataOffset)
	copy(buf[dataOff:], r.Data)
	return buf
}

func dataOffsetFor(r *Record) int {
	off := FixedHeaderSize + BlocketteSize
	if r.Blockette1001 != nil {
		off += BlocketteSize
	}
	return align64(off)
}

// DecodeRecord parses a complete wire-format record back into its parts.
func DecodeRecord(buf []byte) (*Record, error) {
	h, err := DecodeFixedHeader(buf)
	if err != nil {
		return nil, err
	}
	off := int(h.FirstBlockette)
	if off == 0 {
		off = FixedHeaderSize
	}
	b1000, err := DecodeBlockette1000(buf[off : off+BlocketteSize])
	if err != nil {
		return nil, err
	}
	rec := &Record{Header: *h, Blockette1000: *b1000, SizeExponent: b1000.SizeExponent}
	if b1000.NextOffset != 0 {
		b1001Off := int(b1000.NextOffset)
		b1001, err := DecodeBlockette1001(buf[b1001Off : b1001Off+BlocketteSize])
		if err != nil {
			return nil, err
		}
		rec.Blockette1001 = b1001
	}
	dataOff := int(h.DataOffset)
	rec.Data = buf[dataOff:]
	return rec, nil
}

// StartTime reconstructs the record's start timestamp from its header
// fields.
func (r *Record) StartTime() time.Time {
	h := r.Header
	base := time.Date(int(h.Year), time.January, 1, int(h.Hour), int(h.Minute), int(h.Second), 0, time.UTC)
	base = base.AddDate(0, 0, int(h.DayOfYear)-1)
	return base.Add(time.Duration(h.FracTenTh) * 100000 * time.Nanosecond)
}
