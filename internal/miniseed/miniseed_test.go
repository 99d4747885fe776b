package miniseed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTickClockTimeAtAndGap(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTickClock(start, 100, 1)

	require.Equal(t, start, c.Now())
	c.Tick()
	require.Equal(t, start.Add(10*time.Millisecond), c.Now())

	require.False(t, c.IsGap(c.Now()))
	require.False(t, c.IsGap(c.Now().Add(4*time.Millisecond)))
	require.True(t, c.IsGap(c.Now().Add(6*time.Millisecond)))
}

func TestTickClockSetTimeResetsTicks(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTickClock(start, 100, 1)
	c.Tick()
	c.Tick()
	require.Equal(t, int64(2), c.Ticks())

	next := start.Add(time.Hour)
	c.SetTime(next)
	require.Equal(t, int64(0), c.Ticks())
	require.Equal(t, next, c.Now())
}

func TestRateFactorMultiplier(t *testing.T) {
	factor, mult := RateFactorMultiplier(100, 1)
	require.Equal(t, int16(100), factor)
	require.Equal(t, int16(1), mult)

	factor, mult = RateFactorMultiplier(1, 10)
	require.Equal(t, int16(-10), factor)
	require.Equal(t, int16(1), mult)

	factor, mult = RateFactorMultiplier(3, 7)
	require.Equal(t, int16(-7), factor)
	require.Equal(t, int16(3), mult)
}

func TestFixedHeaderRoundTrip(t *testing.T) {
	h := &FixedHeader{
		SequenceNumber: 42,
		Quality:        'D',
		Station:        "ABCDE",
		Location:       "00",
		Channel:        "BHZ",
		Network:        "XX",
		Year:           2020,
		DayOfYear:      15,
		Hour:           3,
		Minute:         4,
		Second:         5,
		FracTenTh:      1234,
		SampleCount:    100,
		RateFactor:     100,
		RateMultiplier: 1,
		BlocketteCount: 1,
		DataOffset:     64,
		FirstBlockette: 48,
	}
	buf := h.Encode()
	require.Len(t, buf, FixedHeaderSize)

	got, err := DecodeFixedHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h.SequenceNumber, got.SequenceNumber)
	require.Equal(t, h.Quality, got.Quality)
	require.Equal(t, h.Station, got.Station)
	require.Equal(t, h.Location, got.Location)
	require.Equal(t, h.Channel, got.Channel)
	require.Equal(t, h.Network, got.Network)
	require.Equal(t, h.Year, got.Year)
	require.Equal(t, h.DayOfYear, got.DayOfYear)
	require.Equal(t, h.RateFactor, got.RateFactor)
	require.Equal(t, h.RateMultiplier, got.RateMultiplier)
	require.Equal(t, h.DataOffset, got.DataOffset)
}

func TestBlocketteRoundTrip(t *testing.T) {
	b := &Blockette1000{EncodingCode: EncodingSteim2, WordSwap: 1, SizeExponent: 9, NextOffset: 56}
	got, err := DecodeBlockette1000(b.Encode())
	require.NoError(t, err)
	require.Equal(t, b.EncodingCode, got.EncodingCode)
	require.Equal(t, b.SizeExponent, got.SizeExponent)
	require.Equal(t, b.NextOffset, got.NextOffset)

	b1 := &Blockette1001{TimingQuality: 90, FrameCount: 7, NextOffset: 0}
	got1, err := DecodeBlockette1001(b1.Encode())
	require.NoError(t, err)
	require.Equal(t, b1.TimingQuality, got1.TimingQuality)
	require.Equal(t, b1.FrameCount, got1.FrameCount)
}

func testConfig() RecordConfig {
	return RecordConfig{
		Station: "ABCDE", Location: "00", Channel: "BHZ", Network: "XX",
		FreqN: 100, FreqD: 1,
	}
}

func TestUncompressedRoundTripEachKind(t *testing.T) {
	cases := []struct {
		kind   SampleKind
		values []float64
	}{
		{KindInt16, []float64{1, -1, 32767, -32768}},
		{KindInt32, []float64{1, -1, 1 << 20, -(1 << 20)}},
		{KindFloat32, []float64{1.5, -2.25, 0}},
		{KindFloat64, []float64{1.5, -2.25, 0}},
	}

	for _, tc := range cases {
		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := NewTickClock(start, 100, 1)

		var records []*Record
		enc := NewUncompressedEncoder(tc.kind, testConfig(), clock, func(r *Record) {
			records = append(records, r)
		})
		for i, v := range tc.values {
			enc.AddSample(v, clock.TimeAt(int64(i)))
		}
		enc.Flush()

		require.Len(t, records, 1)
		rec := records[0]
		require.Equal(t, len(tc.values), int(rec.Header.SampleCount))

		wire := rec.Bytes()
		decoded, err := DecodeRecord(wire)
		require.NoError(t, err)

		got := DecodeUncompressedData(tc.kind, decoded.Data, int(decoded.Header.SampleCount))
		require.Equal(t, tc.values, got)
	}
}

// TestSteimEncodeDecodeRoundTrip mirrors the canonical Steim2 scenario: the
// sample set [0, 1, -1, 1000, -1000, 2^20, -2^20] fits within a single
// record, with the first/last absolute samples mirrored into frame 0's
// reserved integrity words.
func TestSteimEncodeDecodeRoundTrip(t *testing.T) {
	samples := []int32{0, 1, -1, 1000, -1000, 1 << 20, -(1 << 20)}

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewTickClock(start, 100, 1)

	var records []*Record
	enc := NewSteimEncoder(Steim2, testConfig(), clock, func(r *Record) {
		records = append(records, r)
	})
	for i, v := range samples {
		require.NoError(t, enc.AddSample(v, clock.TimeAt(int64(i))))
	}
	enc.Flush()

	require.Len(t, records, 1, "all 7 samples must fit in a single 512-byte record")
	rec := records[0]
	require.Equal(t, len(samples), int(rec.Header.SampleCount))
	require.Equal(t, EncodingSteim2, rec.Blockette1000.EncodingCode)

	frame := decodeSteimFrame(rec.Data[:FrameSize])
	require.Equal(t, int32(0), int32(frame.words[0]), "frame 0 word 0 carries the first absolute sample")
	require.Equal(t, int32(-1048576), int32(frame.words[1]), "frame 0 word 1 carries the last absolute sample")

	wire := rec.Bytes()
	decoded, err := DecodeRecord(wire)
	require.NoError(t, err)

	frameCount := len(rec.Data) / FrameSize
	got, err := DecodeSteimData(Steim2, decoded.Data, frameCount, int(decoded.Header.SampleCount))
	require.NoError(t, err)
	require.Equal(t, samples, got)
}

func TestSteimFlushOnPartialRecord(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewTickClock(start, 100, 1)

	var records []*Record
	enc := NewSteimEncoder(Steim1, testConfig(), clock, func(r *Record) {
		records = append(records, r)
	})
	require.NoError(t, enc.AddSample(5, clock.TimeAt(0)))
	enc.Flush()

	require.Len(t, records, 1)
	require.Equal(t, 1, int(records[0].Header.SampleCount))
}

func TestSteimEncoderDetectsGapAndSplitsRecords(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewTickClock(start, 100, 1)

	var records []*Record
	enc := NewSteimEncoder(Steim2, testConfig(), clock, func(r *Record) {
		records = append(records, r)
	})
	require.NoError(t, enc.AddSample(1, clock.TimeAt(0)))
	require.NoError(t, enc.AddSample(2, clock.TimeAt(1)))

	// A sample arriving far outside the expected period forces a flush of
	// the in-progress record before the gap is absorbed into a new one.
	gapTime := start.Add(10 * time.Second)
	require.NoError(t, enc.AddSample(3, gapTime))
	enc.Flush()

	require.Len(t, records, 2)
	require.Equal(t, 2, int(records[0].Header.SampleCount))
	require.Equal(t, 1, int(records[1].Header.SampleCount))

	got, err := DecodeSteimData(Steim2, records[1].Data, len(records[1].Data)/FrameSize, int(records[1].Header.SampleCount))
	require.NoError(t, err)
	require.Equal(t, []int32{3}, got, "record 2 must decode from its own frame-0 word-0, not a running total seeded at 0")
}

// TestSteimEncoderContinuousFillAcrossRecordBoundary exercises a plain,
// gap-free stream long enough to exhaust a record's frame budget mid-loop
// inside AddSample (no Flush, no gap). Every record's SampleCount,
// beginSample (frame-0 word-0) and start time must reflect only the samples
// actually packed into that record.
func TestSteimEncoderContinuousFillAcrossRecordBoundary(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewTickClock(start, 100, 1)

	const total = 1000
	samples := make([]int32, total)
	for i := range samples {
		samples[i] = int32(i)
	}

	var records []*Record
	enc := NewSteimEncoder(Steim2, testConfig(), clock, func(r *Record) {
		records = append(records, r)
	})
	for i, v := range samples {
		require.NoError(t, enc.AddSample(v, clock.TimeAt(int64(i))))
	}
	enc.Flush()

	require.Greater(t, len(records), 1, "a continuous fill this long must roll over into a second record with no gap")

	sampleAt := 0
	gotAll := make([]int32, 0, total)
	for _, rec := range records {
		wantStart := clock.TimeAt(int64(sampleAt))
		require.Equal(t, uint16(wantStart.YearDay()), rec.Header.DayOfYear)
		require.Equal(t, uint8(wantStart.Hour()), rec.Header.Hour)
		require.Equal(t, uint8(wantStart.Minute()), rec.Header.Minute)
		require.Equal(t, uint8(wantStart.Second()), rec.Header.Second)
		require.Equal(t, uint16(wantStart.Nanosecond()/100000), rec.Header.FracTenTh)

		frame := decodeSteimFrame(rec.Data[:FrameSize])
		require.Equal(t, samples[sampleAt], int32(frame.words[0]), "beginSample must be this record's own first sample, not the stream's")

		frameCount := len(rec.Data) / FrameSize
		got, err := DecodeSteimData(Steim2, rec.Data, frameCount, int(rec.Header.SampleCount))
		require.NoError(t, err)
		require.Equal(t, samples[sampleAt:sampleAt+int(rec.Header.SampleCount)], got, "record must decode to its own contiguous slice of the original stream")

		gotAll = append(gotAll, got...)
		sampleAt += int(rec.Header.SampleCount)
	}
	require.Equal(t, total, sampleAt, "sample counts across records must sum to the number fed")
	require.Equal(t, samples, gotAll)
}

func TestRecordConfigFramesPerRecordDefaultSize(t *testing.T) {
	cfg := testConfig()
	require.Equal(t, DefaultSizeExponent, cfg.sizeExponent())
	require.Equal(t, 512, cfg.recordSize())
	require.Equal(t, 64, cfg.dataOffset())
	require.Equal(t, 7, cfg.framesPerRecord())
}
