package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/types"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}

		decoder, codecErr = zstd.NewReader(nil)
	})

	return codecErr
}

// EncodeTable serializes t as zstd-compressed JSON
func EncodeTable(t *types.Table) ([]byte, error) {
	if err := initCodec(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCacheSerialization, "failed to initialize table codec")
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCacheSerialization, "failed to encode table")
	}

	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// DecodeTable reverses EncodeTable. Integral numbers come back as int64.
func DecodeTable(data []byte) (*types.Table, error) {
	if err := initCodec(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCacheSerialization, "failed to initialize table codec")
	}

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCacheSerialization, "failed to decompress table")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var t types.Table
	if err := dec.Decode(&t); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCacheSerialization, "failed to decode table")
	}

	for _, row := range t.Rows {
		for i, v := range row {
			n, ok := v.(json.Number)
			if !ok {
				continue
			}

			if iv, err := n.Int64(); err == nil {
				row[i] = iv
			} else if fv, err := n.Float64(); err == nil {
				row[i] = fv
			}
		}
	}

	return &t, nil
}

// GetOrComputeTable is GetOrCompute for tabular results. Empty tables are
// returned but not stored. A table that cannot be serialized is still
// returned to the caller alongside a CacheSerialization error.
func GetOrComputeTable(
	ctx context.Context,
	c *ResultCache,
	key string,
	ttl time.Duration,
	fn func(ctx context.Context) (*types.Table, error),
) (*types.Table, bool, error) {
	var encodeErr error

	p, cached, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) (Payload, error) {
		t, err := fn(ctx)
		if err != nil {
			return Payload{}, err
		}

		if t.RowCount() == 0 {
			return Payload{Value: t}, nil
		}

		data, err := EncodeTable(t)
		if err != nil {
			encodeErr = err
			return Payload{RowCount: t.RowCount(), Value: t}, nil
		}

		return Payload{Data: data, RowCount: t.RowCount(), Value: t}, nil
	})
	if err != nil {
		return nil, false, err
	}

	if t, ok := p.Value.(*types.Table); ok {
		return t, cached, encodeErr
	}

	t, err := DecodeTable(p.Data)
	if err != nil {
		return nil, false, err
	}

	return t, cached, nil
}
