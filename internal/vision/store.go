package vision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoFrame = errors.New("no frame captured yet")

const defaultMaxFrames = 8

// Store keeps the last few frames of a stream in a Redis sorted set scored by capture
// time, so the capturer and the scheduler never share buffers directly.
type Store struct {
	redis     *redis.Client
	frameTTL  time.Duration
	maxFrames int64
}

func NewStore(redisClient *redis.Client, frameTTL time.Duration, maxFrames int64) *Store {
	if frameTTL == 0 {
		frameTTL = 60 * time.Second
	}
	if maxFrames <= 0 {
		maxFrames = defaultMaxFrames
	}
	return &Store{
		redis:     redisClient,
		frameTTL:  frameTTL,
		maxFrames: maxFrames,
	}
}

func framesKey(streamID string) string {
	return fmt.Sprintf("stream:%s:frames", streamID)
}

func metaKey(streamID string) string {
	return fmt.Sprintf("stream:%s:meta", streamID)
}

func (s *Store) StoreFrame(ctx context.Context, frame *Frame) error {
	key := framesKey(frame.StreamID)
	member := redis.Z{
		Score:  float64(frame.Timestamp),
		Member: frame.Data,
	}

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.ZRemRangeByRank(ctx, key, 0, -(s.maxFrames + 1))
	pipe.Expire(ctx, key, s.frameTTL)
	pipe.HSet(ctx, metaKey(frame.StreamID),
		"width", frame.Width,
		"height", frame.Height,
		"timestamp", frame.Timestamp,
	)
	pipe.Expire(ctx, metaKey(frame.StreamID), s.frameTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetLatestFrame returns ErrNoFrame when the stream has nothing stored.
func (s *Store) GetLatestFrame(ctx context.Context, streamID string) (*Frame, error) {
	results, err := s.redis.ZRevRangeWithScores(ctx, framesKey(streamID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoFrame
	}

	data, ok := results[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("invalid frame data type %T", results[0].Member)
	}

	frame := &Frame{
		StreamID:  streamID,
		Timestamp: int64(results[0].Score),
		Data:      []byte(data),
	}
	if w, h, err := s.dimensions(ctx, streamID); err == nil {
		frame.Width, frame.Height = w, h
	}
	return frame, nil
}

// Dimensions reports the size of the most recently stored frame, or zeros before the
// first frame arrives.
func (s *Store) Dimensions(ctx context.Context, streamID string) (width, height int, at time.Time, err error) {
	vals, err := s.redis.HMGet(ctx, metaKey(streamID), "width", "height", "timestamp").Result()
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	width, height = atoi(vals[0]), atoi(vals[1])
	if ts := atoi(vals[2]); ts > 0 {
		at = time.UnixMilli(int64(ts))
	}
	return width, height, at, nil
}

func (s *Store) dimensions(ctx context.Context, streamID string) (int, int, error) {
	w, h, _, err := s.Dimensions(ctx, streamID)
	return w, h, err
}

func atoi(v any) int {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) GetFrames(ctx context.Context, streamID string, startTime, endTime int64, limit int) ([]*Frame, error) {
	opt := &redis.ZRangeBy{
		Min:   strconv.FormatInt(startTime, 10),
		Max:   strconv.FormatInt(endTime, 10),
		Count: int64(limit),
	}

	results, err := s.redis.ZRangeByScoreWithScores(ctx, framesKey(streamID), opt).Result()
	if err != nil {
		return nil, err
	}

	frames := make([]*Frame, 0, len(results))
	for _, r := range results {
		data, ok := r.Member.(string)
		if !ok {
			continue
		}
		frames = append(frames, &Frame{
			StreamID:  streamID,
			Timestamp: int64(r.Score),
			Data:      []byte(data),
		})
	}

	return frames, nil
}

func (s *Store) Count(ctx context.Context, streamID string) (int64, error) {
	return s.redis.ZCard(ctx, framesKey(streamID)).Result()
}

func (s *Store) DeleteFrames(ctx context.Context, streamID string) error {
	return s.redis.Del(ctx, framesKey(streamID), metaKey(streamID)).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
