package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/glizzus/delay-relay/internal/util"
	"github.com/redis/go-redis/v9"
)

const IgnoreSetKey = "relay_ignore"

type IgnoreAdder interface {
	AddToIgnoreList(ctx context.Context, name string) error
}

type IgnoreRemover interface {
	RemoveFromIgnoreList(ctx context.Context, name string) error
}

type IgnoreLister interface {
	ListIgnored(ctx context.Context) ([]string, error)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if n := normalize(name); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// MemoryIgnoreList matches names case-insensitively.
type MemoryIgnoreList struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewMemoryIgnoreList(names ...string) *MemoryIgnoreList {
	return &MemoryIgnoreList{names: nameSet(names)}
}

func (l *MemoryIgnoreList) Ignored(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.names[normalize(name)]
	return ok
}

func (l *MemoryIgnoreList) AddToIgnoreList(_ context.Context, name string) error {
	n := normalize(name)
	if n == "" {
		return fmt.Errorf("cannot ignore an empty name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names[n] = struct{}{}
	return nil
}

func (l *MemoryIgnoreList) RemoveFromIgnoreList(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.names, normalize(name))
	return nil
}

func (l *MemoryIgnoreList) ListIgnored(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return util.SortedKeys(l.names), nil
}

// RedisIgnoreList combines fixed names with the shared redis set. Ignored
// only reads the last snapshot taken by Refresh, so it is safe to call from
// the relay loop.
type RedisIgnoreList struct {
	client *redis.Client
	static map[string]struct{}

	mu     sync.RWMutex
	remote map[string]struct{}
	log    *slog.Logger
}

func NewRedisIgnoreList(client *redis.Client, static ...string) *RedisIgnoreList {
	return &RedisIgnoreList{
		client: client,
		static: nameSet(static),
		remote: map[string]struct{}{},
		log:    slog.With("component", "ignore-list"),
	}
}

func (l *RedisIgnoreList) Ignored(name string) bool {
	n := normalize(name)
	if _, ok := l.static[n]; ok {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.remote[n]
	return ok
}

// Refresh replaces the snapshot with the current contents of the set.
func (l *RedisIgnoreList) Refresh(ctx context.Context) error {
	members, err := l.client.SMembers(ctx, IgnoreSetKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read ignore list: %w", err)
	}
	remote := nameSet(members)
	l.mu.Lock()
	l.remote = remote
	l.mu.Unlock()
	return nil
}

// Run refreshes the snapshot every interval until ctx is done. Failures keep
// the previous snapshot.
func (l *RedisIgnoreList) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn("failed to refresh ignore list", slog.Any("error", err))
			}
		}
	}
}

func (l *RedisIgnoreList) AddToIgnoreList(ctx context.Context, name string) error {
	n := normalize(name)
	if n == "" {
		return fmt.Errorf("cannot ignore an empty name")
	}
	if err := l.client.SAdd(ctx, IgnoreSetKey, n).Err(); err != nil {
		return fmt.Errorf("failed to add %s to ignore list: %w", name, err)
	}
	return nil
}

func (l *RedisIgnoreList) RemoveFromIgnoreList(ctx context.Context, name string) error {
	if err := l.client.SRem(ctx, IgnoreSetKey, normalize(name)).Err(); err != nil {
		return fmt.Errorf("failed to remove %s from ignore list: %w", name, err)
	}
	return nil
}

// ListIgnored returns the fixed and shared names together, sorted.
func (l *RedisIgnoreList) ListIgnored(ctx context.Context) ([]string, error) {
	members, err := l.client.SMembers(ctx, IgnoreSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}
	names := util.SortedKeys(l.static)
	for n := range nameSet(members) {
		if _, ok := l.static[n]; !ok {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

var (
	_ relay.Ignorer = (*MemoryIgnoreList)(nil)
	_ relay.Ignorer = (*RedisIgnoreList)(nil)
	_ IgnoreAdder   = (*MemoryIgnoreList)(nil)
	_ IgnoreAdder   = (*RedisIgnoreList)(nil)
	_ IgnoreRemover = (*RedisIgnoreList)(nil)
	_ IgnoreLister  = (*RedisIgnoreList)(nil)
)
