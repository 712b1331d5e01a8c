package preference

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix prefixes the hash key holding a user's home station.
const RedisKeyPrefix = "railuk:home:"

// RedisClient is the subset of *redis.Client used by [RedisStore].
type RedisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

const backendRedis = "redis"

// RedisStore keeps each home station in a hash with the fields name, crs
// and distance.
type RedisStore struct {
	client RedisClient
}

// Compile-time interface checks.
var (
	_ Store       = (*RedisStore)(nil)
	_ Pinger      = (*RedisStore)(nil)
	_ RedisClient = (*redis.Client)(nil)
)

// NewRedisStore creates a store on client.
func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis connects to the server at addr and returns the store together
// with a function closing the client.
func OpenRedis(addr, password string, db int) (*RedisStore, func() error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return NewRedisStore(c), c.Close
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*HomeStation, error) {
	fields, err := s.client.HGetAll(ctx, RedisKeyPrefix+userID).Result()
	if err != nil {
		return nil, storeErr(backendRedis, "get", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	h := HomeStation{}
	h.Station.Name = fields["name"]
	h.Station.Code = fields["crs"]
	if d := fields["distance"]; d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			return nil, storeErr(backendRedis, "get", err)
		}
		h.Distance = n
	}
	return &h, nil
}

// Set writes all fields in one HSET. Redis reports how many fields were
// newly created, which is zero when the hash already existed.
func (s *RedisStore) Set(ctx context.Context, userID string, home HomeStation) (Result, error) {
	added, err := s.client.HSet(ctx, RedisKeyPrefix+userID,
		"name", home.Station.Name,
		"crs", home.Station.Code,
		"distance", strconv.Itoa(home.Distance),
	).Result()
	if err != nil {
		return "", storeErr(backendRedis, "set", err)
	}
	if added == 0 {
		return ResultUpdated, nil
	}
	return ResultSet, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr(backendRedis, "ping", err)
	}
	return nil
}
