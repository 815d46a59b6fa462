// Package activity は監査ログを非同期に記録する。
// 記録はリクエスト処理をブロックせず、永続化の失敗はログに残して握りつぶす。
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shopadmin/internal/model"
)

const (
	// DefaultQueueSize はキュー長の既定値。
	DefaultQueueSize = 256
	// DefaultWriteTimeout は1件の書き込みに許容する時間。
	DefaultWriteTimeout = 5 * time.Second

	unserializableDetails = `{"error":"unserializable details"}`
)

// Store は監査ログの書き込み先。repository.ActivityRepositoryが満たす。
type Store interface {
	Create(ctx context.Context, record *model.ActivityRecord) error
}

// Metrics は記録結果のカウンター。
type Metrics interface {
	IncActivityWritten()
	IncActivityDropped()
	IncActivityFailed()
}

type noopMetrics struct{}

func (noopMetrics) IncActivityWritten() {}
func (noopMetrics) IncActivityDropped() {}
func (noopMetrics) IncActivityFailed()  {}

// Entry は記録要求。Detailsは任意のキーと値で、JSON文字列として保存される。
type Entry struct {
	UserID    string
	UserEmail string
	Action    string
	Details   map[string]any
	IPAddress string
}

// Config はRecorderの設定。
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Recorder は有界キューと単一の書き込みgoroutineで監査ログを永続化する。
// キューが満杯の場合は最も古い未書き込みの記録を破棄する。
type Recorder struct {
	store        Store
	metrics      Metrics
	writeTimeout time.Duration
	now          func() time.Time

	mu     sync.Mutex
	queue  chan *model.ActivityRecord
	closed bool

	finished  chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewRecorder はRecorderを生成し、書き込みgoroutineを起動する。
// metricsがnilの場合は記録しない。
func NewRecorder(store Store, metrics Metrics, cfg Config) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	r := &Recorder{
		store:        store,
		metrics:      metrics,
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
		queue:        make(chan *model.ActivityRecord, cfg.QueueSize),
		finished:     make(chan struct{}),
	}

	go r.run()

	return r
}

// Record は監査ログをキューに積む。呼び出し元をブロックせず、エラーも返さない。
// ctxは受け取るが書き込みには使わない。リクエストのキャンセルで監査ログが失われないようにするため。
func (r *Recorder) Record(_ context.Context, entry Entry) {
	if r == nil {
		return
	}

	record := &model.ActivityRecord{
		ID:        uuid.New().String(),
		UserID:    entry.UserID,
		UserEmail: entry.UserEmail,
		Action:    entry.Action,
		Details:   encodeDetails(entry.Details),
		IPAddress: truncateIP(entry.IPAddress),
		Timestamp: r.now(),
	}

	r.enqueue(record)
}

// enqueue はキューに空きがなければ最古の記録を捨ててから積む。
func (r *Recorder) enqueue(record *model.ActivityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		slog.Warn("activity recorder is closed, record discarded",
			slog.String("action", record.Action),
		)
		return
	}

	select {
	case r.queue <- record:
		return
	default:
	}

	// 満杯: 最古の記録を破棄する。書き込みgoroutineが先に取り出した場合は破棄しない。
	select {
	case oldest := <-r.queue:
		r.dropped.Add(1)
		r.metrics.IncActivityDropped()
		slog.Warn("activity queue full, dropped oldest record",
			slog.String("action", oldest.Action),
			slog.String("user_email", oldest.UserEmail),
		)
	default:
	}

	select {
	case r.queue <- record:
	default:
		// enqueueはmuで直列化されているため通常到達しない
		r.dropped.Add(1)
		r.metrics.IncActivityDropped()
	}
}

func (r *Recorder) run() {
	defer close(r.finished)

	for record := range r.queue {
		r.write(record)
	}
}

// write は1件を独立したタイムアウト付きコンテキストで書き込む。
func (r *Recorder) write(record *model.ActivityRecord) {
	if r.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.Create(ctx, record); err != nil {
		r.metrics.IncActivityFailed()
		slog.Warn("failed to write activity record",
			slog.String("action", record.Action),
			slog.String("user_email", record.UserEmail),
			slog.String("error", err.Error()),
		)
		return
	}
	r.metrics.IncActivityWritten()
}

// Close は受付を停止し、キューに残った記録を書き終えるまで待つ。
// ctxの期限までに書き終わらない場合はctx.Err()を返す。
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}

	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped はキュー溢れで破棄した件数を返す。
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

func encodeDetails(details map[string]any) string {
	if len(details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(details)
	if err != nil {
		return unserializableDetails
	}
	return string(b)
}
