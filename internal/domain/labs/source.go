package labs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Table sources.
const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourceRedis    = "redis"
)

// ErrTableNotFound is returned when a remote source holds no table.
var ErrTableNotFound = errors.New("reference ranges not found")

// SourceConfig selects where the classifier gets its table.
type SourceConfig struct {
	Kind     string
	File     string
	Watch    bool
	RedisURL string
	Key      string
	Channel  string
}

// Open builds a classifier from cfg. Watchers for file and redis sources run
// until ctx is cancelled.
func Open(ctx context.Context, cfg SourceConfig, logger zerolog.Logger) (*Classifier, error) {
	switch cfg.Kind {
	case "", SourceEmbedded:
		return NewClassifier(nil), nil

	case SourceFile:
		t, err := LoadTable(cfg.File)
		if err != nil {
			return nil, err
		}
		c := NewClassifier(t)
		if cfg.Watch {
			w := NewFileWatcher(cfg.File, c, logger)
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Error().Err(err).Str("file", cfg.File).Msg("reference range watcher stopped")
				}
			}()
		}
		return c, nil

	case SourceRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}

		src := NewRedisSource(client, cfg.Key, cfg.Channel, logger)
		c, sub, err := src.Start(ctx)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		go func() {
			defer client.Close()
			if err := src.Listen(ctx, sub, c); err != nil {
				logger.Error().Err(err).Str("channel", cfg.Channel).Msg("reference range subscription stopped")
			}
		}()
		return c, nil

	default:
		return nil, fmt.Errorf("unknown reference range source %q", cfg.Kind)
	}
}

// FileWatcher reloads a table file when it changes.
type FileWatcher struct {
	path       string
	classifier *Classifier
	logger     zerolog.Logger

	// Debounce coalesces bursts of write events into one reload.
	Debounce time.Duration
}

func NewFileWatcher(path string, c *Classifier, logger zerolog.Logger) *FileWatcher {
	return &FileWatcher{
		path:       filepath.Clean(path),
		classifier: c,
		logger:     logger,
		Debounce:   200 * time.Millisecond,
	}
}

// Run watches the file's directory so that editors which replace the file
// are still seen. It returns when ctx is done.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(w.Debounce)
		case <-pending:
			pending = nil
			w.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Str("file", w.path).Msg("reference range watcher error")
		}
	}
}

// Reload reads the file and swaps it in. A broken file keeps the current
// table.
func (w *FileWatcher) Reload() bool {
	t, err := LoadTable(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("file", w.path).Msg("reference range reload failed, keeping current table")
		return false
	}
	w.classifier.Swap(t)
	w.logger.Info().Str("file", w.path).Str("version", t.Version).Msg("reference ranges reloaded")
	return true
}

// RedisClient is the subset of *redis.Client used by RedisSource.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Subscription is the subset of *redis.PubSub used by RedisSource.
type Subscription interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisSource keeps the table document under a key and announces changes on
// a pub/sub channel.
type RedisSource struct {
	client    RedisClient
	key       string
	channel   string
	logger    zerolog.Logger
	subscribe func(ctx context.Context, channel string) Subscription
}

func NewRedisSource(client RedisClient, key, channel string, logger zerolog.Logger) *RedisSource {
	return &RedisSource{
		client:  client,
		key:     key,
		channel: channel,
		logger:  logger,
		subscribe: func(ctx context.Context, channel string) Subscription {
			return client.Subscribe(ctx, channel)
		},
	}
}

func (s *RedisSource) Load(ctx context.Context) (*Table, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: key %s", ErrTableNotFound, s.key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return ParseTable(data, "redis:"+s.key)
}

// Publish validates data, stores it and notifies subscribers. Invalid
// documents are rejected before anything is written.
func (s *RedisSource) Publish(ctx context.Context, data []byte) (*Table, error) {
	t, err := ParseTable(data, "redis:"+s.key)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return nil, fmt.Errorf("set %s: %w", s.key, err)
	}
	if err := s.client.Publish(ctx, s.channel, t.Version).Err(); err != nil {
		return nil, fmt.Errorf("publish %s: %w", s.channel, err)
	}
	return t, nil
}

// Reload fetches the key and swaps it into c. Failures keep the current
// table.
func (s *RedisSource) Reload(ctx context.Context, c *Classifier) bool {
	t, err := s.Load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("reference range reload failed, keeping current table")
		return false
	}
	c.Swap(t)
	s.logger.Info().Str("key", s.key).Str("version", t.Version).Msg("reference ranges reloaded")
	return true
}

// Subscribe joins the change channel and waits for the server to confirm.
func (s *RedisSource) Subscribe(ctx context.Context) (Subscription, error) {
	sub := s.subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	return sub, nil
}

// Start subscribes before reading the key, so a Publish that lands during
// startup is still announced to Listen. A missing key falls back to the
// embedded table.
func (s *RedisSource) Start(ctx context.Context) (*Classifier, Subscription, error) {
	sub, err := s.Subscribe(ctx)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.Load(ctx)
	if errors.Is(err, ErrTableNotFound) {
		s.logger.Warn().Str("key", s.key).Msg("no reference ranges in redis, using embedded table")
		t = DefaultTable()
	} else if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	return NewClassifier(t), sub, nil
}

// Listen reloads c whenever a message arrives on sub. It closes sub when ctx
// ends.
func (s *RedisSource) Listen(ctx context.Context, sub Subscription, c *Classifier) error {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.logger.Debug().Str("channel", msg.Channel).Str("payload", msg.Payload).Msg("reference range change announced")
			s.Reload(ctx, c)
		}
	}
}

// Watch subscribes and reloads c on every announced change.
func (s *RedisSource) Watch(ctx context.Context, c *Classifier) error {
	sub, err := s.Subscribe(ctx)
	if err != nil {
		return err
	}
	return s.Listen(ctx, sub, c)
}
