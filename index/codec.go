package index

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Stored record layout:
//
//	flags(1) | payload | xxhash64(flags|payload)(8)
//
// The payload is the record's MarshalBinary output, zstd-compressed when
// flagCompressed is set.
const (
	flagCompressed byte = 1 << 0

	envelopeOverhead = 1 + 8
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// sealValue wraps a serialized record for storage.
func sealValue(raw []byte, compress bool) ([]byte, error) {
	flags := byte(0)
	payload := raw
	if compress {
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("index: zstd init: %w", err)
		}
		payload = enc.EncodeAll(raw, nil)
		flags |= flagCompressed
	}

	out := make([]byte, 0, len(payload)+envelopeOverhead)
	out = append(out, flags)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint64(out, xxhash.Sum64(out)), nil
}

// openValue verifies and unwraps a stored record.
func openValue(stored []byte) ([]byte, error) {
	if len(stored) < envelopeOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptEnvelope, len(stored))
	}
	body := stored[:len(stored)-8]
	sum := binary.BigEndian.Uint64(stored[len(stored)-8:])
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptEnvelope)
	}

	flags, payload := body[0], body[1:]
	if flags&flagCompressed == 0 {
		return payload, nil
	}
	_, dec, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("index: zstd init: %w", err)
	}
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEnvelope, err)
	}
	return raw, nil
}
