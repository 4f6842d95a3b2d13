package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// Snapshots expire a day after the last mutation.
	snapshotTTL = 24 * time.Hour

	roomKeyPrefix  = "room:"
	socketIndexKey = "socket-index"
)

// Config of the Redis connection backing the registry.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`
	// Password, empty when the server requires none.
	Password string `yaml:"password"`
	// DB index to use.
	DB int `yaml:"db"`
}

// NewClient connects to the configured Redis server.
func NewClient(config Config) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
}

// RedisStore is the production Store, shared by all server instances.
type RedisStore struct {
	client redis.UniversalClient
	logger *logrus.Entry
}

func NewRedisStore(client redis.UniversalClient, logger *logrus.Entry) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func roomKey(id MeetingID) string {
	return roomKeyPrefix + string(id)
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, roomKey(snapshot.ID), payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context, id MeetingID) (Snapshot, error) {
	payload, err := s.client.Get(ctx, roomKey(id)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *RedisStore) DeleteSnapshot(ctx context.Context, id MeetingID) error {
	if err := s.client.Del(ctx, roomKey(id)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) ListMeetings(ctx context.Context) ([]MeetingID, error) {
	var ids []MeetingID
	iter := s.client.Scan(ctx, 0, roomKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, MeetingID(iter.Val()[len(roomKeyPrefix):]))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan meetings: %w", err)
	}
	return ids, nil
}

// BindSocket writes the socket mapping and the refreshed snapshot in one
// transaction, so a crash between the two cannot leave them inconsistent.
func (s *RedisStore) BindSocket(ctx context.Context, socket SocketID, binding Binding, snapshot Snapshot) error {
	bindingPayload, err := json.Marshal(binding)
	if err != nil {
		return fmt.Errorf("marshal binding: %w", err)
	}
	snapshotPayload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, socketIndexKey, string(socket), bindingPayload)
		pipe.Set(ctx, roomKey(snapshot.ID), snapshotPayload, snapshotTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupSocket(ctx context.Context, socket SocketID) (Binding, error) {
	payload, err := s.client.HGet(ctx, socketIndexKey, string(socket)).Bytes()
	if err == redis.Nil {
		return Binding{}, ErrNotFound
	}
	if err != nil {
		return Binding{}, fmt.Errorf("lookup socket: %w", err)
	}

	var binding Binding
	if err := json.Unmarshal(payload, &binding); err != nil {
		return Binding{}, fmt.Errorf("unmarshal binding: %w", err)
	}
	return binding, nil
}

func (s *RedisStore) UnbindSocket(ctx context.Context, socket SocketID) error {
	if err := s.client.HDel(ctx, socketIndexKey, string(socket)).Err(); err != nil {
		return fmt.Errorf("unbind socket: %w", err)
	}
	return nil
}

// CleanupSocket removes the participant a dead socket was bound to. The
// snapshot update runs under Watch so concurrent mutations of the same
// meeting retry instead of clobbering each other.
func (s *RedisStore) CleanupSocket(ctx context.Context, socket SocketID) (Binding, bool, error) {
	binding, err := s.LookupSocket(ctx, socket)
	if err != nil {
		return Binding{}, false, err
	}

	key := roomKey(binding.MeetingID)
	var emptied bool

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			// The meeting is already gone; just drop the mapping.
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, socketIndexKey, string(socket))
				return nil
			})
			return err
		}
		if err != nil {
			return err
		}

		var snapshot Snapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return err
		}
		delete(snapshot.Peers, binding.ParticipantID)
		emptied = len(snapshot.Peers) == 0

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, socketIndexKey, string(socket))
			if emptied {
				pipe.Del(ctx, key)
				return nil
			}
			updated, err := json.Marshal(snapshot)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, updated, snapshotTTL)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return Binding{}, false, fmt.Errorf("cleanup socket: %w", err)
	}

	return binding, emptied, nil
}
