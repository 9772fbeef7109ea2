package cloudsync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cserrors "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/httpsclient"
)

const (
	// DefaultPacing is the pause between two worker tasks.
	DefaultPacing = 100 * time.Millisecond

	// DefaultProviderBaseURL is where bare document ids are resolved and
	// where new documents are created.
	DefaultProviderBaseURL = "https://api.npoint.io/"

	observerBuffer = 16
)

// HTTPDoer is the subset of httpsclient.Session the engine uses.
type HTTPDoer interface {
	Get(ctx context.Context, rawURL string) (*httpsclient.Response, error)
	Post(ctx context.Context, rawURL string, body []byte) (*httpsclient.Response, error)
	Insecure() bool
}

// LocalStore reads and writes the serialized local collections. A
// collection that does not exist yet reads as empty without error.
type LocalStore interface {
	ReadCollection(c Collection) ([]byte, error)
	WriteCollection(c Collection, data []byte) error
}

// Config configures an Engine.
type Config struct {
	Session HTTPDoer
	Store   LocalStore

	// ProviderBaseURL expands bare document ids. Defaults to
	// DefaultProviderBaseURL.
	ProviderBaseURL string

	Enabled         bool
	RatingsEndpoint string
	HistoryEndpoint string

	// Pacing is the pause between worker tasks. Zero uses DefaultPacing.
	Pacing time.Duration

	// Metrics is optional.
	Metrics *Metrics
}

type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleStopped
)

// Engine owns the sync task queue and the single worker goroutine that
// uploads local collections. Manual Push and Pull run on the caller's
// goroutine and never overlap with the worker's network operations.
type Engine struct {
	session HTTPDoer
	store   LocalStore
	baseURL string
	pacing  time.Duration
	metrics *Metrics
	logger  *slog.Logger

	queue  *TaskQueue
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	done   chan struct{}

	// opMu allows one network operation in flight at a time.
	opMu sync.Mutex

	// mu guards everything below. It is never held across network I/O.
	mu          sync.Mutex
	state       lifecycle
	enabled     bool
	endpoints   [2]string
	statuses    [2]Status
	lastSuccess [2]time.Time
	lastErr     string

	obsMu     sync.Mutex
	observers map[int]chan StatusEvent
	nextObs   int
}

// NewEngine builds an Engine. Call Start to launch the worker.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	base := cfg.ProviderBaseURL
	if base == "" {
		base = DefaultProviderBaseURL
	}

	pacing := cfg.Pacing
	if pacing == 0 {
		pacing = DefaultPacing
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		session:   cfg.Session,
		store:     cfg.Store,
		baseURL:   base,
		pacing:    pacing,
		metrics:   cfg.Metrics,
		logger:    logger,
		queue:     NewTaskQueue(),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		enabled:   cfg.Enabled,
		observers: make(map[int]chan StatusEvent),
	}

	e.endpoints[CollectionRatings] = strings.TrimSpace(cfg.RatingsEndpoint)
	e.endpoints[CollectionHistory] = strings.TrimSpace(cfg.HistoryEndpoint)

	for _, c := range Collections {
		e.statuses[c] = e.restingStatusLocked(c)
		e.metrics.setStatus(c, e.statuses[c])
	}

	return e
}

// Start launches the worker goroutine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case lifecycleRunning:
		return nil
	case lifecycleStopped:
		return cserrors.ErrEngineStopped
	}

	e.state = lifecycleRunning
	go e.worker()

	e.logger.Info("sync engine started",
		slog.Bool("enabled", e.enabled),
		slog.Bool("insecure", e.session.Insecure()),
	)

	return nil
}

// Stop signals the worker and waits for it to exit. Queued tasks are
// dropped. Subscriber channels are closed. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	prev := e.state
	e.state = lifecycleStopped
	e.mu.Unlock()

	if prev == lifecycleStopped {
		return
	}

	close(e.stopCh)
	e.cancel()
	e.queue.Close()

	if prev == lifecycleRunning {
		<-e.done
	}

	e.obsMu.Lock()
	for id, ch := range e.observers {
		close(ch)
		delete(e.observers, id)
	}
	e.obsMu.Unlock()

	e.logger.Info("sync engine stopped")
}

// Run starts the engine and blocks until ctx is cancelled, then stops
// it. It fits an errgroup alongside other long-running components.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	e.Stop()

	return nil
}

// SetEnabled turns automatic sync on or off for both collections.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	events := make([]StatusEvent, 0, len(Collections))
	for _, c := range Collections {
		events = append(events, e.applyRestingLocked(c))
	}
	e.mu.Unlock()

	e.logger.Info("cloud sync toggled", slog.Bool("enabled", enabled))

	for _, ev := range events {
		e.notify(ev)
	}
}

// Enabled reports whether automatic sync is on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.enabled
}

// SetEndpoint replaces the endpoint of c. It may be a full https URL or
// a bare document id. An empty value disables the collection. The new
// value is used by every task that starts afterwards, including tasks
// already queued.
func (e *Engine) SetEndpoint(c Collection, endpoint string) {
	if !c.valid() {
		return
	}

	e.mu.Lock()
	e.endpoints[c] = strings.TrimSpace(endpoint)
	ev := e.applyRestingLocked(c)
	e.mu.Unlock()

	e.logger.Info("endpoint updated",
		slog.String("collection", c.String()),
		slog.Bool("configured", endpoint != ""),
	)

	e.notify(ev)
}

// Endpoint returns the resolved URL for c, or "" when unset.
func (e *Engine) Endpoint(c Collection) string {
	if !c.valid() {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return ExpandEndpoint(e.baseURL, e.endpoints[c])
}

// ExpandEndpoint turns a bare document id into a URL under base. Values
// that already carry a scheme are returned unchanged.
func ExpandEndpoint(base, endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}

	if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
		return endpoint
	}

	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

// Enqueue schedules an upload of c. It reports false, and does nothing,
// when the collection is disabled or the engine has stopped.
func (e *Engine) Enqueue(c Collection) bool {
	e.mu.Lock()
	active := e.state != lifecycleStopped && c.valid() && e.activeLocked(c)
	e.mu.Unlock()

	if !active {
		return false
	}

	task := newTask(c)
	if !e.queue.Push(task) {
		return false
	}

	e.metrics.setQueueDepth(e.queue.Len())
	e.logger.Debug("sync task queued",
		slog.String("task", task.ID),
		slog.String("collection", c.String()),
	)

	return true
}

// SyncAll enqueues an upload of every collection.
func (e *Engine) SyncAll() {
	for _, c := range Collections {
		e.Enqueue(c)
	}
}

// Push uploads c now, on the calling goroutine.
func (e *Engine) Push(ctx context.Context, c Collection) error {
	return e.manual(ctx, c, "upload", e.upload)
}

// Pull downloads c now, merges it into the local collection and writes
// the result back.
func (e *Engine) Pull(ctx context.Context, c Collection) error {
	return e.manual(ctx, c, "download", e.download)
}

// PushRatings uploads the ratings collection now.
func (e *Engine) PushRatings(ctx context.Context) error { return e.Push(ctx, CollectionRatings) }

// PushHistory uploads the history collection now.
func (e *Engine) PushHistory(ctx context.Context) error { return e.Push(ctx, CollectionHistory) }

// PullRatings downloads and merges the ratings collection now.
func (e *Engine) PullRatings(ctx context.Context) error { return e.Pull(ctx, CollectionRatings) }

// PullHistory downloads and merges the history collection now.
func (e *Engine) PullHistory(ctx context.Context) error { return e.Pull(ctx, CollectionHistory) }

// Subscribe registers an observer. Every status change is sent on the
// returned channel. A subscriber that falls behind misses events rather
// than stalling the worker. The cancel func unregisters and closes the
// channel.
func (e *Engine) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, observerBuffer)

	e.obsMu.Lock()
	e.mu.Lock()
	stopped := e.state == lifecycleStopped
	e.mu.Unlock()

	if stopped {
		e.obsMu.Unlock()
		close(ch)
		return ch, func() {}
	}

	id := e.nextObs
	e.nextObs++
	e.observers[id] = ch
	e.obsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.obsMu.Lock()
			defer e.obsMu.Unlock()

			if existing, ok := e.observers[id]; ok {
				close(existing)
				delete(e.observers, id)
			}
		})
	}

	return ch, cancel
}

// Snapshot returns the current engine state without waiting on any
// network operation.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := func(c Collection) CollectionState {
		return CollectionState{
			Status:      e.statuses[c],
			Endpoint:    ExpandEndpoint(e.baseURL, e.endpoints[c]),
			LastSuccess: e.lastSuccess[c],
		}
	}

	return Snapshot{
		Enabled:   e.enabled,
		Insecure:  e.session.Insecure(),
		Ratings:   state(CollectionRatings),
		History:   state(CollectionHistory),
		LastError: e.lastErr,
	}
}

// Status returns the current status of c.
func (e *Engine) Status(c Collection) Status {
	if !c.valid() {
		return StatusDisabled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.statuses[c]
}

// LastError returns the message of the most recent failure, or "".
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}

func (e *Engine) worker() {
	defer close(e.done)

	for {
		task, ok := e.queue.Pop()
		if !ok {
			return
		}
		e.metrics.setQueueDepth(e.queue.Len())

		e.runTask(task)

		select {
		case <-e.stopCh:
			return
		case <-time.After(e.pacing):
		}
	}
}

func (e *Engine) runTask(task Task) {
	c := task.Collection
	logger := e.logger.With(
		slog.String("task", task.ID),
		slog.String("collection", c.String()),
	)

	e.mu.Lock()
	active := e.activeLocked(c)
	if !active {
		ev := e.eventLocked(c)
		e.mu.Unlock()

		logger.Debug("collection disabled since enqueue, skipping task")
		e.notify(ev)
		return
	}
	e.mu.Unlock()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	start := time.Now()
	e.setSyncing(c)

	err := e.upload(e.ctx, c)
	ev := e.finish(c, "upload", err, start)

	if err != nil {
		logger.Warn("sync task failed", slog.String("error", err.Error()))
	} else {
		logger.Info("sync task complete", slog.Duration("elapsed", time.Since(start)))
	}

	e.notify(ev)
}

func (e *Engine) manual(ctx context.Context, c Collection, op string, fn func(context.Context, Collection) error) error {
	if !c.valid() {
		return fmt.Errorf("unknown collection %d", int(c))
	}

	e.mu.Lock()
	switch {
	case e.state == lifecycleStopped:
		e.mu.Unlock()
		return cserrors.ErrEngineStopped
	case e.endpoints[c] == "":
		msg := fmt.Sprintf("%s endpoint not configured", c)
		e.lastErr = msg
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", cserrors.ErrEndpointNotConfigured, c)
	case !e.enabled:
		e.mu.Unlock()
		return cserrors.ErrSyncDisabled
	}
	e.mu.Unlock()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	start := time.Now()
	e.setSyncing(c)

	err := fn(ctx, c)
	ev := e.finish(c, op, err, start)

	logger := e.logger.With(slog.String("collection", c.String()), slog.String("op", op))
	if err != nil {
		logger.Warn("manual sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("manual sync complete")
	}

	e.notify(ev)

	return err
}

// upload posts the current local collection to its endpoint. The local
// bytes are sent as stored once they are known to decode.
func (e *Engine) upload(ctx context.Context, c Collection) error {
	url := e.Endpoint(c)
	if url == "" {
		return fmt.Errorf("%w: %s", cserrors.ErrEndpointNotConfigured, c)
	}

	data, err := e.store.ReadCollection(c)
	if err != nil {
		return fmt.Errorf("reading local %s: %w", c, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: no local %s data to upload", cserrors.ErrSerialization, c)
	}

	if err := validateCollection(c, data); err != nil {
		return err
	}

	resp, err := e.session.Post(ctx, url, data)
	if err != nil {
		return fmt.Errorf("HTTP 0: %w", err)
	}

	if !resp.OK() {
		return &cserrors.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	return nil
}

// download fetches the remote collection, merges it with the local one
// and writes the merged result back to the store.
func (e *Engine) download(ctx context.Context, c Collection) error {
	url := e.Endpoint(c)
	if url == "" {
		return fmt.Errorf("%w: %s", cserrors.ErrEndpointNotConfigured, c)
	}

	resp, err := e.session.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("HTTP 0: %w", err)
	}

	if resp.StatusCode != 200 {
		return &cserrors.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	local, err := e.store.ReadCollection(c)
	if err != nil {
		return fmt.Errorf("reading local %s: %w", c, err)
	}

	merged, err := mergeCollection(c, local, resp.Body)
	if err != nil {
		return err
	}

	if err := e.store.WriteCollection(c, merged); err != nil {
		return fmt.Errorf("writing merged %s: %w", c, err)
	}

	return nil
}

func validateCollection(c Collection, data []byte) error {
	var err error

	switch c {
	case CollectionRatings:
		_, err = DecodeRatings(data)
	case CollectionHistory:
		_, err = DecodeHistory(data)
	}

	if err != nil {
		return fmt.Errorf("%w: local %s: %w", cserrors.ErrSerialization, c, err)
	}

	return nil
}

func mergeCollection(c Collection, local, remote []byte) ([]byte, error) {
	switch c {
	case CollectionRatings:
		l, err := DecodeRatings(local)
		if err != nil {
			return nil, fmt.Errorf("%w: local %s: %w", cserrors.ErrSerialization, c, err)
		}
		r, err := DecodeRatings(remote)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", c, err)
		}
		return EncodeRatings(MergeRatings(l, r))

	case CollectionHistory:
		l, err := DecodeHistory(local)
		if err != nil {
			return nil, fmt.Errorf("%w: local %s: %w", cserrors.ErrSerialization, c, err)
		}
		r, err := DecodeHistory(remote)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", c, err)
		}
		return EncodeHistory(MergeHistory(l, r))
	}

	return nil, fmt.Errorf("unknown collection %d", int(c))
}

func (e *Engine) setSyncing(c Collection) {
	e.mu.Lock()
	e.statuses[c] = StatusSyncing
	e.mu.Unlock()

	e.metrics.setStatus(c, StatusSyncing)
}

func (e *Engine) finish(c Collection, op string, err error, start time.Time) StatusEvent {
	now := time.Now()

	e.mu.Lock()
	if err == nil {
		e.statuses[c] = StatusSuccess
		e.lastSuccess[c] = now
	} else {
		e.statuses[c] = StatusError
		e.lastErr = err.Error()
	}
	ev := e.eventLocked(c)
	e.mu.Unlock()

	e.metrics.setStatus(c, ev.Status)
	e.metrics.observeOperation(c, op, err == nil, now.Sub(start))

	return ev
}

func (e *Engine) activeLocked(c Collection) bool {
	return e.enabled && e.endpoints[c] != ""
}

// restingStatusLocked is the status a collection settles in after a
// configuration change.
func (e *Engine) restingStatusLocked(c Collection) Status {
	if !e.activeLocked(c) {
		return StatusDisabled
	}

	return StatusIdle
}

// applyRestingLocked moves c to its resting status unless an operation
// is in flight, and returns the event to publish.
func (e *Engine) applyRestingLocked(c Collection) StatusEvent {
	if e.statuses[c] != StatusSyncing {
		e.statuses[c] = e.restingStatusLocked(c)
		e.metrics.setStatus(c, e.statuses[c])
	}

	return e.eventLocked(c)
}

func (e *Engine) eventLocked(c Collection) StatusEvent {
	ev := StatusEvent{
		Collection: c,
		Status:     e.statuses[c],
		At:         time.Now(),
	}
	if ev.Status == StatusError {
		ev.Err = e.lastErr
	}

	return ev
}

func (e *Engine) notify(ev StatusEvent) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()

	for _, ch := range e.observers {
		select {
		case ch <- ev:
		default:
			e.metrics.observerDropped()
		}
	}
}
