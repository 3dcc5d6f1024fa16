// Package codec implements the per-payload compressor used by the disk
// overflow buffer. Payloads are framed with a one-byte tag so raw,
// compressed, and dictionary-compressed records can coexist in one log.
package codec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/securewatch/ingest/internal/logger"
)

// Frame tags. The tag is the first byte of every encoded payload.
const (
	frameRaw      byte = 0
	frameZstd     byte = 1
	frameZstdDict byte = 2
)

const (
	// DefaultMinSize is the payload size below which compression is skipped.
	DefaultMinSize = 1024

	// minGainRatio rejects compression results within 10% of the input
	// size; the raw payload is kept instead.
	minGainRatio = 0.9

	// MinLevel and MaxLevel bound the zstd compression level.
	MinLevel = 1
	MaxLevel = 22

	// maxDictSamples bounds the rolling sample pool used for training.
	maxDictSamples = 1000
)

// Config controls codec behavior.
type Config struct {
	// Level is the zstd compression level (1-22).
	Level int

	// MinSize is the payload size threshold; smaller payloads pass through
	// uncompressed. Zero means DefaultMinSize.
	MinSize int

	// Dictionary is an optional pre-trained zstd dictionary.
	Dictionary []byte
}

// Stats is a point-in-time snapshot of codec performance.
type Stats struct {
	Encoded          uint64
	Passthrough      uint64
	BytesIn          uint64
	BytesOut         uint64
	CompressionRatio float64 // bytes_in / bytes_out over compressed payloads
	CompressTime     time.Duration
	ThroughputMBps   float64
}

// Codec compresses and decompresses disk-log payloads.
type Codec struct {
	mu      sync.RWMutex
	level   int
	minSize int
	dict    []byte
	enc     *zstd.Encoder
	encDict *zstd.Encoder
	dec     *zstd.Decoder

	samples   [][]byte
	samplesMu sync.Mutex

	encoded     atomic.Uint64
	passthrough atomic.Uint64
	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
	encodeNanos atomic.Uint64
}

// New creates a codec with the given configuration.
func New(cfg Config) (*Codec, error) {
	level := cfg.Level
	if level == 0 {
		level = 3
	}
	if level < MinLevel || level > MaxLevel {
		return nil, fmt.Errorf("compression level %d out of range [%d,%d]", level, MinLevel, MaxLevel)
	}
	minSize := cfg.MinSize
	if minSize == 0 {
		minSize = DefaultMinSize
	}

	c := &Codec{
		level:   level,
		minSize: minSize,
		dict:    cfg.Dictionary,
	}
	if err := c.rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

// rebuild recreates the encoders and decoder for the current level and
// dictionary. Caller must not hold c.mu.
func (c *Codec) rebuild() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	encLevel := zstd.EncoderLevelFromZstd(c.level)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}

	var encDict *zstd.Encoder
	decOpts := []zstd.DOption{}
	if len(c.dict) > 0 {
		encDict, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(encLevel),
			zstd.WithEncoderDict(c.dict),
		)
		if err != nil {
			return fmt.Errorf("create dictionary encoder: %w", err)
		}
		decOpts = append(decOpts, zstd.WithDecoderDicts(c.dict))
	}

	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}

	if c.enc != nil {
		c.enc.Close()
	}
	if c.encDict != nil {
		c.encDict.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}

	c.enc = enc
	c.encDict = encDict
	c.dec = dec
	return nil
}

// Encode frames and optionally compresses a payload.
//
// Payloads below the minimum size pass through raw. A compression result
// within 10% of the input size is discarded and the raw payload kept.
func (c *Codec) Encode(payload []byte) []byte {
	if len(payload) < c.minSize {
		c.passthrough.Add(1)
		return append([]byte{frameRaw}, payload...)
	}

	start := time.Now()

	c.mu.RLock()
	enc := c.enc
	tag := frameZstd
	if c.encDict != nil {
		enc = c.encDict
		tag = frameZstdDict
	}
	compressed := enc.EncodeAll(payload, make([]byte, 1, len(payload)/2+1))
	c.mu.RUnlock()

	c.sample(payload)

	if float64(len(compressed)-1) > float64(len(payload))*minGainRatio {
		c.passthrough.Add(1)
		return append([]byte{frameRaw}, payload...)
	}

	compressed[0] = tag
	c.encoded.Add(1)
	c.bytesIn.Add(uint64(len(payload)))
	c.bytesOut.Add(uint64(len(compressed) - 1))
	c.encodeNanos.Add(uint64(time.Since(start).Nanoseconds()))
	return compressed
}

// Decode unframes a payload, decompressing when needed.
func (c *Codec) Decode(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	tag, body := framed[0], framed[1:]
	switch tag {
	case frameRaw:
		return body, nil
	case frameZstd, frameZstdDict:
		c.mu.RLock()
		defer c.mu.RUnlock()
		out, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown frame tag 0x%02x", tag)
	}
}

// UsedDictionary reports whether an encoded payload was produced in
// dictionary mode.
func UsedDictionary(framed []byte) bool {
	return len(framed) > 0 && framed[0] == frameZstdDict
}

// AdjustLevel changes the compression level and rebuilds the encoders.
func (c *Codec) AdjustLevel(newLevel int) error {
	if newLevel < MinLevel || newLevel > MaxLevel {
		return fmt.Errorf("compression level %d out of range [%d,%d]", newLevel, MinLevel, MaxLevel)
	}
	c.mu.Lock()
	c.level = newLevel
	c.mu.Unlock()
	return c.rebuild()
}

// Level returns the current compression level.
func (c *Codec) Level() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// RecommendLevel suggests a compression level for the observed CPU load
// (0-1) and the target throughput in MB/s. Heavier levels only pay off when
// the CPU has headroom and the throughput target is modest.
func RecommendLevel(cpuLoad, targetThroughputMBps float64) int {
	switch {
	case cpuLoad > 0.85:
		return 1
	case cpuLoad > 0.6 || targetThroughputMBps > 400:
		return 3
	case targetThroughputMBps > 100:
		return 6
	case cpuLoad > 0.3:
		return 9
	default:
		return 12
	}
}

// sample adds a payload to the rolling dictionary training pool.
func (c *Codec) sample(payload []byte) {
	c.samplesMu.Lock()
	defer c.samplesMu.Unlock()
	if len(c.samples) >= maxDictSamples {
		// Rolling window: drop the oldest sample.
		copy(c.samples, c.samples[1:])
		c.samples = c.samples[:len(c.samples)-1]
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.samples = append(c.samples, cp)
}

// TrainDictionary builds a dictionary from the rolling sample pool and
// switches the codec to dictionary mode. Requires enough samples to be
// representative.
func (c *Codec) TrainDictionary() error {
	c.samplesMu.Lock()
	samples := make([][]byte, len(c.samples))
	copy(samples, c.samples)
	c.samplesMu.Unlock()

	if len(samples) < 16 {
		return fmt.Errorf("not enough samples for dictionary training: %d", len(samples))
	}

	dict, err := zstd.BuildDict(zstd.BuildDictOptions{
		ID:       1,
		Contents: samples,
	})
	if err != nil {
		return fmt.Errorf("train dictionary: %w", err)
	}

	c.mu.Lock()
	c.dict = dict
	c.mu.Unlock()

	if err := c.rebuild(); err != nil {
		return err
	}
	logger.Info("compression dictionary trained",
		"samples", len(samples), "dict_bytes", len(dict))
	return nil
}

// Stats returns a snapshot of codec performance counters.
func (c *Codec) Stats() Stats {
	in := c.bytesIn.Load()
	out := c.bytesOut.Load()
	nanos := c.encodeNanos.Load()

	s := Stats{
		Encoded:      c.encoded.Load(),
		Passthrough:  c.passthrough.Load(),
		BytesIn:      in,
		BytesOut:     out,
		CompressTime: time.Duration(nanos),
	}
	if out > 0 {
		s.CompressionRatio = float64(in) / float64(out)
	}
	if nanos > 0 {
		s.ThroughputMBps = float64(in) / (1024 * 1024) / (float64(nanos) / 1e9)
	}
	return s
}

// Close releases the zstd encoders and decoder.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		c.enc.Close()
	}
	if c.encDict != nil {
		c.encDict.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
