// Package rediscache mirrors the latest-per-object view into a Redis hash so
// other processes can read current element sets without touching the
// primary store.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

// DefaultKey is the hash holding one field per object identity.
const DefaultKey = "orbit:latest"

// entry is the JSON value stored per hash field.
type entry struct {
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	TypeLabel  string    `json:"type_label"`
	Line1      string    `json:"line1"`
	Line2      string    `json:"line2"`
	Seq        uint64    `json:"seq"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Mirror implements storage.LatestMirror on a Redis hash.
type Mirror struct {
	rdb redis.UniversalClient
	key string
}

var _ storage.LatestMirror = (*Mirror)(nil)

// New returns a mirror writing to key (DefaultKey when empty).
func New(rdb redis.UniversalClient, key string) *Mirror {
	if key == "" {
		key = DefaultKey
	}
	return &Mirror{rdb: rdb, key: key}
}

// Dial connects to addr, checks the connection and returns a mirror on key.
func Dial(ctx context.Context, addr, key string) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, storage.Wrap("redis ping", err)
	}
	return New(rdb, key), nil
}

// Close closes the underlying client.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}

// ReplaceLatest swaps the hash contents for records in one MULTI/EXEC.
func (m *Mirror) ReplaceLatest(ctx context.Context, records []model.Record) error {
	values := make([]any, 0, 2*len(records))
	for _, rec := range records {
		data, err := encode(rec)
		if err != nil {
			return storage.Wrap("mirror replace", err)
		}
		values = append(values, rec.Identity(), data)
	}

	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if len(values) > 0 {
			pipe.HSet(ctx, m.key, values...)
		}
		return nil
	})
	return storage.Wrap("mirror replace", err)
}

// Clear removes the mirrored view.
func (m *Mirror) Clear(ctx context.Context) error {
	return storage.Wrap("mirror clear", m.rdb.Del(ctx, m.key).Err())
}

// LatestPerObject reads the mirrored view back, newest epoch first.
func (m *Mirror) LatestPerObject(ctx context.Context) ([]model.Record, error) {
	fields, err := m.rdb.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, storage.Wrap("mirror read", err)
	}
	out := make([]model.Record, 0, len(fields))
	for name, data := range fields {
		rec, err := decode(data)
		if err != nil {
			return nil, storage.Wrap("mirror read", fmt.Errorf("field %q: %w", name, err))
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Newer(out[j]) })
	return out, nil
}

// LatestByName reads one mirrored record.
func (m *Mirror) LatestByName(ctx context.Context, name string) (model.Record, error) {
	data, err := m.rdb.HGet(ctx, m.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return model.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Record{}, storage.Wrap("mirror read", err)
	}
	rec, err := decode(data)
	if err != nil {
		return model.Record{}, storage.Wrap("mirror read", err)
	}
	return rec, nil
}

func encode(rec model.Record) (string, error) {
	line1, line2 := rec.Line1, rec.Line2
	if line1 == "" || line2 == "" {
		var err error
		if line1, line2, err = tle.Format(rec.ElementSet); err != nil {
			return "", err
		}
	}
	data, err := json.Marshal(entry{
		Name:       rec.Identity(),
		Category:   rec.Category.String(),
		TypeLabel:  rec.TypeLabel,
		Line1:      line1,
		Line2:      line2,
		Seq:        rec.Seq,
		IngestedAt: rec.IngestedAt,
	})
	return string(data), err
}

func decode(data string) (model.Record, error) {
	var e entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return model.Record{}, err
	}
	set, err := tle.ParseLines(e.Name, e.Line1, e.Line2)
	if err != nil {
		return model.Record{}, err
	}
	set.TypeLabel = e.TypeLabel
	cat, err := model.ParseCategory(e.Category)
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{
		TrackedObject: model.TrackedObject{ElementSet: set, Category: cat},
		Seq:           e.Seq,
		IngestedAt:    e.IngestedAt,
	}, nil
}
