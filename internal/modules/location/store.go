// README: Location store backed by Redis (current, history, geofences) and Postgres snapshots.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"schoolrun/internal/types"
)

const (
	currentKeyPrefix  = "location:driver:%s:current"
	historyKeyPrefix  = "location:driver:%s:history"
	geofenceKeyPrefix = "location:journey:%s:geofences"
	// Geofences outlive any single-day journey; End clears them explicitly.
	geofenceTTL = 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// Save overwrites the current sample, appends it to the history and trims the
// history to the newest limit entries in one MULTI block.
func (s *Store) Save(ctx context.Context, driverID types.ID, sample Sample, limit int) error {
	raw, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	hk := historyKey(driverID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, currentKey(driverID), raw, 0)
		pipe.ZAdd(ctx, hk, redis.Z{Score: score(sample.Timestamp), Member: raw})
		pipe.ZRemRangeByRank(ctx, hk, 0, int64(-limit-1))
		return nil
	})
	return err
}

func (s *Store) Current(ctx context.Context, driverID types.ID) (*Sample, error) {
	raw, err := s.redis.Get(ctx, currentKey(driverID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sample Sample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// History returns samples in ascending timestamp order. Nil bounds are open.
func (s *Store) History(ctx context.Context, driverID types.ID, start, end *time.Time) ([]Sample, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if start != nil {
		rng.Min = strconv.FormatInt(start.UnixMicro(), 10)
	}
	if end != nil {
		rng.Max = strconv.FormatInt(end.UnixMicro(), 10)
	}
	members, err := s.redis.ZRangeByScore(ctx, historyKey(driverID), rng).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Sample, 0, len(members))
	for _, m := range members {
		var sample Sample
		if err := json.Unmarshal([]byte(m), &sample); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *Store) PutGeofences(ctx context.Context, journeyID types.ID, fences []Geofence) error {
	if len(fences) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fences))
	for _, f := range fences {
		raw, err := json.Marshal(f)
		if err != nil {
			return err
		}
		values[f.ID] = string(raw)
	}
	key := geofenceKey(journeyID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, geofenceTTL)
		return nil
	})
	return err
}

// Geofences returns the registered fences sorted by ID.
func (s *Store) Geofences(ctx context.Context, journeyID types.ID) ([]Geofence, error) {
	all, err := s.redis.HGetAll(ctx, geofenceKey(journeyID)).Result()
	if err != nil {
		return nil, err
	}
	fences := make([]Geofence, 0, len(all))
	for _, raw := range all {
		var f Geofence
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode geofence: %w", err)
		}
		fences = append(fences, f)
	}
	sort.Slice(fences, func(i, j int) bool { return fences[i].ID < fences[j].ID })
	return fences, nil
}

func (s *Store) RemoveGeofences(ctx context.Context, journeyID types.ID, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.redis.HDel(ctx, geofenceKey(journeyID), ids...).Err()
}

func (s *Store) ClearGeofences(ctx context.Context, journeyID types.ID) error {
	return s.redis.Del(ctx, geofenceKey(journeyID)).Err()
}

// SnapshotStore appends samples to the location_snapshots table.
type SnapshotStore struct {
	db *pgxpool.Pool
}

func NewSnapshotStore(db *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return errors.New("snapshot store not configured")
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO location_snapshots (driver_id, lat, lng, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		string(snap.DriverID), snap.Position.Lat, snap.Position.Lng, snap.RecordedAt,
	)
	return err
}

// score uses microseconds so that scores stay exact in a float64.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func currentKey(id types.ID) string {
	return fmt.Sprintf(currentKeyPrefix, string(id))
}

func historyKey(id types.ID) string {
	return fmt.Sprintf(historyKeyPrefix, string(id))
}

func geofenceKey(id types.ID) string {
	return fmt.Sprintf(geofenceKeyPrefix, string(id))
}
