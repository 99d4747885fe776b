package miniseed

import (
	"encoding/binary"
	"math"
	"time"
)

// SampleKind selects the uncompressed wire representation.
type SampleKind int

const (
	KindInt16 SampleKind = iota
	KindInt32
	KindFloat32
	KindFloat64
)

func (k SampleKind) encodingCode() uint8 {
	switch k {
	case KindInt16:
		return EncodingInt16
	case KindFloat32:
		return EncodingFloat32
	case KindFloat64:
		return EncodingFloat64
	default:
		return EncodingInt32
	}
}

func (k SampleKind) sampleSize() int {
	switch k {
	case KindInt16:
		return 2
	case KindFloat32:
		return 4
	case KindFloat64:
		return 8
	default:
		return 4
	}
}

// UncompressedEncoder packs raw int16/int32/float32/float64 samples
// directly into the data region with no differential compression,
// finalizing a record whenever the data region fills or Flush is called.
type UncompressedEncoder struct {
	kind     SampleKind
	cfg      RecordConfig
	clock    *TickClock
	onRecord func(*Record)

	seq         int
	data         []byte
	sampleCount int
	recordStart time.Time
	capacity    int
}

// NewUncompressedEncoder builds an encoder for the given sample kind.
func NewUncompressedEncoder(kind SampleKind, cfg RecordConfig, clock *TickClock, onRecord func(*Record)) *UncompressedEncoder {
	e := &UncompressedEncoder{kind: kind, cfg: cfg, clock: clock, onRecord: onRecord}
	e.capacity = (cfg.recordSize() - cfg.dataOffset()) / kind.sampleSize()
	return e
}

// AddSample appends one value (as float64 so int16/int32 callers can pass
// whole numbers without a type-specific method per kind).
func (e *UncompressedEncoder) AddSample(value float64, sampleTime time.Time) {
	if e.clock.Ticks() > 0 && e.clock.IsGap(sampleTime) {
		e.Flush()
		e.clock.SetTime(sampleTime)
	}
	if e.sampleCount == 0 {
		e.recordStart = sampleTime
	}

	switch e.kind {
	case KindInt16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(int16(value)))
		e.data = append(e.data, b...)
	case KindInt32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(int32(value)))
		e.data = append(e.data, b...)
	case KindFloat32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(float32(value)))
		e.data = append(e.data, b...)
	case KindFloat64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(value))
		e.data = append(e.data, b...)
	}
	e.sampleCount++
	e.clock.Tick()

	if e.sampleCount >= e.capacity {
		e.finalizeRecord()
	}
}

// Flush closes out a partially filled record, if any samples are pending.
func (e *UncompressedEncoder) Flush() {
	if e.sampleCount > 0 {
		e.finalizeRecord()
	}
}

func (e *UncompressedEncoder) finalizeRecord() {
	rec := buildRecord(e.cfg, e.seq, e.recordStart, e.sampleCount, 0, e.kind.encodingCode(), e.data)
	e.seq++
	e.data = nil
	e.sampleCount = 0
	if e.onRecord != nil {
		e.onRecord(rec)
	}
}

// DecodeUncompressedData parses a data region back into float64 values.
func DecodeUncompressedData(kind SampleKind, data []byte, sampleCount int) []float64 {
	size := kind.sampleSize()
	out := make([]float64, 0, sampleCount)
	for i := 0; i < sampleCount && (i+1)*size <= len(data); i++ {
		chunk := data[i*size : (i+1)*size]
		switch kind {
		case KindInt16:
			out = append(out, float64(int16(binary.BigEndian.Uint16(chunk))))
		case KindInt32:
			out = append(out, float64(int32(binary.BigEndian.Uint32(chunk))))
		case KindFloat32:
			out = append(out, float64(math.Float32frombits(binary.BigEndian.Uint32(chunk))))
		case KindFloat64:
			out = append(out, math.Float64frombits(binary.BigEndian.Uint64(chunk)))
		}
	}
	return out
}
