package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// Versioned pairs a decoded document with the ledger version it was read at.
type Versioned[T any] struct {
	Key     string
	Value   T
	Version int64
}

// Decode unmarshals an entry's JSON value.
func Decode[T any](e domain.Entry) (T, error) {
	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return v, fmt.Errorf("ledger: decode %s: %w", e.Key, err)
	}
	return v, nil
}

// Load reads and decodes key. A missing key yields domain.ErrNotFound.
func Load[T any](ctx context.Context, l domain.Ledger, key string) (Versioned[T], error) {
	e, err := l.Get(ctx, key)
	if err != nil {
		return Versioned[T]{}, err
	}
	v, err := Decode[T](e)
	if err != nil {
		return Versioned[T]{}, err
	}
	return Versioned[T]{Key: key, Value: v, Version: e.Version}, nil
}

// LoadOptional is Load that reports absence as ok=false instead of an error.
func LoadOptional[T any](ctx context.Context, l domain.Ledger, key string) (Versioned[T], bool, error) {
	v, err := Load[T](ctx, l, key)
	if errors.Is(err, domain.ErrNotFound) {
		return Versioned[T]{Key: key}, false, nil
	}
	if err != nil {
		return Versioned[T]{}, false, err
	}
	return v, true, nil
}

// Stage encodes v as a conditional write against version.
func Stage(key string, v any, version int64) (domain.Write, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return domain.Write{}, fmt.Errorf("ledger: encode %s: %w", key, err)
	}
	return domain.Write{Key: key, Value: data, ExpectedVersion: version}, nil
}

// Collect decodes every entry under prefix.
func Collect[T any](ctx context.Context, l domain.Ledger, prefix string) ([]Versioned[T], error) {
	var out []Versioned[T]
	for e, err := range l.Scan(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		v, err := Decode[T](e)
		if err != nil {
			return nil, err
		}
		out = append(out, Versioned[T]{Key: e.Key, Value: v, Version: e.Version})
	}
	return out, nil
}
