package miniseed

import (
	"fmt"
	"time"
)

// SteimVariant selects Steim1 or Steim2 differential packing.
type SteimVariant int

const (
	Steim1 SteimVariant = 1
	Steim2 SteimVariant = 2
)

// FrameSize is the length in bytes of one Steim frame: a nibble word
// followed by 15 32-bit sample words (spec.md §4.6.3).
const FrameSize = 64

// wordsPerFrame is FrameSize/4.
const wordsPerFrame = 16

// dataWordsPerFrame is the 15 sample-carrying words of a frame (everything
// but the nibble word).
const dataWordsPerFrame = 15

// steim2MaxDiff is the largest difference magnitude a Steim2 30-bit word
// carries.
const steim2MaxDiff = 1<<29 - 1

// steimPackConfig describes one way of packing a run of differences into a
// single 32-bit data word.
type steimPackConfig struct {
	count   int
	bits    int
	top     uint8 // 2-bit nibble code
	sub     uint8 // in-word subcode; 0 when the top code needs none
	hasSub  bool
}

func fitsSigned(v int32, bits int) bool {
	if bits >= 32 {
		return true
	}
	lo := -(int32(1) << uint(bits-1))
	hi := (int32(1) << uint(bits-1)) - 1
	return v >= lo && v <= hi
}

func steim1Configs() []steimPackConfig {
	return []steimPackConfig{
		{count: 4, bits: 8, top: 1},
		{count: 2, bits: 16, top: 2},
		{count: 1, bits: 32, top: 3},
	}
}

func steim2Configs() []steimPackConfig {
	return []steimPackConfig{
		{count: 7, bits: 4, top: 3, sub: 3, hasSub: true},
		{count: 6, bits: 5, top: 3, sub: 2, hasSub: true},
		{count: 5, bits: 6, top: 3, sub: 1, hasSub: true},
		{count: 4, bits: 8, top: 1},
		{count: 3, bits: 10, top: 2, sub: 2, hasSub: true},
		{count: 2, bits: 15, top: 2, sub: 1, hasSub: true},
		{count: 1, bits: 30, top: 2, sub: 0, hasSub: true},
	}
}

func configsFor(variant SteimVariant) []steimPackConfig {
	if variant == Steim1 {
		return steim1Configs()
	}
	return steim2Configs()
}

// maxLookahead is the largest sample count any configuration can pack into
// one word; configsFor lists configs most-compact (highest count) first,
// so it is simply the first entry's count.
func maxLookahead(variant SteimVariant) int {
	return configsFor(variant)[0].count
}

// bestFit picks the most compact configuration whose sample count is
// available in buf and whose bit width holds every one of those samples.
func bestFit(variant SteimVariant, buf []int32) steimPackConfig {
	configs := configsFor(variant)
	for _, c := range configs {
		if len(buf) < c.count {
			continue
		}
		ok := true
		for i := 0; i < c.count; i++ {
			if !fitsSigned(buf[i], c.bits) {
				ok = false
				break
			}
		}
		if ok {
			return c
		}
	}
	// Last resort: the widest configuration, one difference per word (32
	// bits for Steim1; 30 bits for Steim2, whose differences AddSample
	// clips to that range).
	return configs[len(configs)-1]
}

func packBits(vals []int32, bits int) uint32 {
	var w uint32
	mask := uint32(1)<<uint(bits) - 1
	for _, v := range vals {
		w = (w << uint(bits)) | (uint32(v) & mask)
	}
	return w
}

func unpackBits(w uint32, bits, count int) []int32 {
	mask := uint32(1)<<uint(bits) - 1
	out := make([]int32, count)
	for i := count - 1; i >= 0; i-- {
		v := w & mask
		if v&(1<<uint(bits-1)) != 0 {
			v |= ^mask
		}
		out[i] = int32(v)
		w >>= uint(bits)
	}
	return out
}

func packWord(c steimPackConfig, diffs []int32) uint32 {
	if !c.hasSub {
		return packBits(diffs, c.bits)
	}
	data := packBits(diffs, c.bits) & (uint32(1)<<30 - 1)
	return uint32(c.sub)<<30 | data
}

// unpackWord decodes a data word given the 2-bit top code read from the
// frame's nibble word. For Steim2 top codes 2 and 3 the subcode lives in
// the word's own top 2 bits; Steim1 words carry no subcode.
func unpackWord(variant SteimVariant, top uint8, word uint32) ([]int32, error) {
	configs := configsFor(variant)
	if variant == Steim1 || !configHasSub(top) {
		for _, c := range configs {
			if c.top == top && !c.hasSub {
				return unpackBits(word, c.bits, c.count), nil
			}
		}
		return nil, fmt.Errorf("miniseed: unknown steim top code %d", top)
	}
	sub := uint8(word >> 30)
	data := word & (uint32(1)<<30 - 1)
	for _, c := range configs {
		if c.top == top && c.hasSub && c.sub == sub {
			return unpackBits(data, c.bits, c.count), nil
		}
	}
	return nil, fmt.Errorf("miniseed: unknown steim subcode top=%d sub=%d", top, sub)
}

func configHasSub(top uint8) bool {
	return top == 2 || top == 3
}

// setNibbleCode stores the 2-bit code for data-word slot (0-based, 0..14)
// in a frame's nibble word, MSB-first: slot 0 occupies the top two bits and
// the 2 spare bits at the LSB end are always 0 in this layout.
// getNibbleCode reads a slot's code back.
func setNibbleCode(nibble uint32, slot int, code uint8) uint32 {
	shift := uint(2*(dataWordsPerFrame-1-slot) + 2)
	return nibble | uint32(code)<<shift
}

func getNibbleCode(nibble uint32, slot int) uint8 {
	shift := uint(2*(dataWordsPerFrame-1-slot) + 2)
	return uint8((nibble >> shift) & 0x3)
}

// steimFrame is one 64-byte frame under construction or already decoded.
type steimFrame struct {
	nibble uint32
	words  [dataWordsPerFrame]uint32
	filled int
}

func (f *steimFrame) encode() []byte {
	buf := make([]byte, FrameSize)
	putU32(buf[0:4], f.nibble)
	for i := 0; i < dataWordsPerFrame; i++ {
		putU32(buf[4+i*4:8+i*4], f.words[i])
	}
	return buf
}

func decodeSteimFrame(buf []byte) *steimFrame {
	f := &steimFrame{nibble: getU32(buf[0:4])}
	for i := 0; i < dataWordsPerFrame; i++ {
		f.words[i] = getU32(buf[4+i*4 : 8+i*4])
	}
	return f
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// SteimEncoder packs a stream of int32 samples into Steim1/Steim2 frames
// and emits complete records via onRecord as soon as a record's frame
// budget is exhausted or Flush is called (spec.md §4.6.4).
type SteimEncoder struct {
	variant  SteimVariant
	cfg      RecordConfig
	clock    *TickClock
	onRecord func(*Record)

	buf        []int32     // buffered, not-yet-packed differences
	bufTimes   []time.Time // sample time each buf entry was derived from
	bufBaseAbs int32       // absolute sample value just before buf[0]
	haveLast   bool
	lastSample int32

	seq         int
	frames      []*steimFrame
	cur         *steimFrame
	fp          int // next data-word slot to fill in cur; 2..14 for frame 0, 0..14 otherwise
	beginSample int32
	beginSet    bool
	recordStart time.Time
	sampleCount int
}

// NewSteimEncoder builds an encoder that emits records through onRecord.
func NewSteimEncoder(variant SteimVariant, cfg RecordConfig, clock *TickClock, onRecord func(*Record)) *SteimEncoder {
	e := &SteimEncoder{variant: variant, cfg: cfg, clock: clock, onRecord: onRecord}
	e.startFrame(true)
	return e
}

func (e *SteimEncoder) startFrame(first bool) {
	e.cur = &steimFrame{}
	if first {
		e.fp = 2
	} else {
		e.fp = 0
	}
}

// AddSample feeds one sample into the encoder. sampleTime is used only to
// seed the record's start timestamp and to detect gaps via the tick clock;
// callers that already drive the clock externally may pass clock.Now().
func (e *SteimEncoder) AddSample(value int32, sampleTime time.Time) error {
	if e.clock.Ticks() > 0 && e.clock.IsGap(sampleTime) {
		e.Flush()
		e.clock.SetTime(sampleTime)
	}

	var diff int32
	if e.haveLast {
		d := int64(value) - int64(e.lastSample)
		if e.variant == Steim2 {
			// Steim2's widest word holds a 30-bit difference: larger steps
			// are clipped and value becomes the sample actually encoded.
			if d > steim2MaxDiff {
				d = steim2MaxDiff
			} else if d < -steim2MaxDiff {
				d = -steim2MaxDiff
			}
			value = e.lastSample + int32(d)
		}
		diff = int32(d)
	} else {
		diff = value
	}
	e.buf = append(e.buf, diff)
	e.bufTimes = append(e.bufTimes, sampleTime)
	e.lastSample = value
	e.haveLast = true
	e.clock.Tick()

	lookahead := maxLookahead(e.variant)
	for len(e.buf) >= lookahead {
		c := bestFit(e.variant, e.buf)
		e.packNext(c)
	}
	return nil
}

// packNext packs the next c.count buffered differences into the current
// frame's next data word. Record-scoped bookkeeping (recordStart,
// beginSample, sampleCount) is anchored here rather than in AddSample: a
// record can finalize mid-loop purely from continuous filling, and at that
// point the next packed chunk is the true start of the following record,
// whatever raw sample happened to arrive most recently.
func (e *SteimEncoder) packNext(c steimPackConfig) {
	chunk := e.buf[:c.count]
	if e.sampleCount == 0 {
		e.recordStart = e.bufTimes[0]
	}
	if !e.beginSet {
		e.beginSample = e.bufBaseAbs + chunk[0]
		e.beginSet = true
	}
	word := packWord(c, chunk)
	e.cur.nibble = setNibbleCode(e.cur.nibble, e.fp, c.top)
	e.cur.words[e.fp] = word
	e.cur.filled++
	for _, d := range chunk {
		e.bufBaseAbs += d
	}
	e.buf = e.buf[c.count:]
	e.bufTimes = e.bufTimes[c.count:]
	e.sampleCount += c.count
	e.fp++
	if e.fp >= dataWordsPerFrame {
		e.commitFrame()
	}
}

func (e *SteimEncoder) commitFrame() {
	e.frames = append(e.frames, e.cur)
	if len(e.frames) >= e.cfg.framesPerRecord() {
		e.finalizeRecord()
		e.startFrame(true)
		return
	}
	e.startFrame(false)
}

// Flush packs any remaining buffered differences (using progressively
// smaller word configurations) and closes out a partial record.
func (e *SteimEncoder) Flush() {
	for len(e.buf) > 0 {
		c := bestFit(e.variant, e.buf)
		e.packNext(c)
	}
	if e.sampleCount > 0 {
		e.frames = append(e.frames, e.cur)
		e.finalizeRecord()
		e.startFrame(true)
	}
}

func (e *SteimEncoder) finalizeRecord() {
	if len(e.frames) == 0 || e.sampleCount == 0 {
		e.frames = nil
		return
	}
	frame0 := e.frames[0]
	frame0.words[0] = uint32(e.beginSample)
	// bufBaseAbs is the absolute value of the last packed sample; lastSample
	// may already belong to differences still buffered for the next record.
	frame0.words[1] = uint32(e.bufBaseAbs)

	data := make([]byte, 0, len(e.frames)*FrameSize)
	for _, f := range e.frames {
		data = append(data, f.encode()...)
	}

	rec := buildRecord(e.cfg, e.seq, e.recordStart, e.sampleCount, len(e.frames), e.steimEncodingCode(), data)
	e.seq++
	e.frames = nil
	e.beginSet = false
	e.sampleCount = 0
	if e.onRecord != nil {
		e.onRecord(rec)
	}
}

func (e *SteimEncoder) steimEncodingCode() uint8 {
	if e.variant == Steim1 {
		return EncodingSteim1
	}
	return EncodingSteim2
}

// DecodeSteimData reconstructs the original int32 samples from a record's
// data region, given the number of frames and samples the header reports.
func DecodeSteimData(variant SteimVariant, data []byte, frameCount, sampleCount int) ([]int32, error) {
	var diffs []int32
	var beginSample int32
	for fi := 0; fi < frameCount; fi++ {
		off := fi * FrameSize
		if off+FrameSize > len(data) {
			break
		}
		frame := decodeSteimFrame(data[off : off+FrameSize])
		start := 0
		if fi == 0 {
			start = 2
			beginSample = int32(frame.words[0])
		}
		for slot := start; slot < dataWordsPerFrame; slot++ {
			code := getNibbleCode(frame.nibble, slot)
			if code == 0 {
				continue
			}
			vals, err := unpackWord(variant, code, frame.words[slot])
			if err != nil {
				return nil, err
			}
			diffs = append(diffs, vals...)
			if len(diffs) >= sampleCount {
				break
			}
		}
		if len(diffs) >= sampleCount {
			break
		}
	}
	if len(diffs) > sampleCount {
		diffs = diffs[:sampleCount]
	}
	if len(diffs) == 0 {
		return nil, nil
	}
	// diffs[0] is the reverse-integration constant frame-0 word-0 already
	// carries as the record's first absolute sample, not a delta to apply.
	samples := make([]int32, len(diffs))
	samples[0] = beginSample
	running := beginSample
	for i := 1; i < len(diffs); i++ {
		running += diffs[i]
		samples[i] = running
	}
	return samples, nil
}
