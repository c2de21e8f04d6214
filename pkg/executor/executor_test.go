package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopglance/syncengine/pkg/backoff"
	"github.com/shopglance/syncengine/pkg/core"
	"github.com/shopglance/syncengine/pkg/storage"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeCreds struct {
	err error
}

func (c *fakeCreds) GetValidToken(_ context.Context, tenantID, provider string) (Token, error) {
	if c.err != nil {
		return Token{}, c.err
	}
	return Token{Value: "tok-" + tenantID + "-" + provider, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeLocal struct {
	mu    sync.Mutex
	items []Item
}

func (l *fakeLocal) FetchLocal(_ context.Context, _, targetKey string) ([]Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if targetKey == "" {
		return append([]Item(nil), l.items...), nil
	}
	var out []Item
	for _, it := range l.items {
		if normalizeKey(it.Key) == normalizeKey(targetKey) {
			out = append(out, it)
		}
	}
	return out, nil
}

// fakeClient is an in-memory external system. It enforces the provider
// contract strictly: creating an existing key or touching a missing one is
// an error, so any non-idempotent retry shows up as a test failure.
type fakeClient struct {
	mu     sync.Mutex
	remote map[string]Item // keyed by normalized key

	// failAfter injects one failure once this many mutations have been
	// applied. -1 disables injection.
	failAfter int
	failErr   error

	// rateLimitCreates makes the next N Create calls return a rate limit.
	rateLimitCreates int

	mutations int
	attempts  int
}

func newFakeClient(remote ...Item) *fakeClient {
	c := &fakeClient{remote: make(map[string]Item), failAfter: -1}
	for _, it := range remote {
		c.remote[normalizeKey(it.Key)] = it
	}
	return c
}

func (c *fakeClient) snapshot() map[string]Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Item, len(c.remote))
	for k, v := range c.remote {
		out[k] = v
	}
	return out
}

func (c *fakeClient) FetchRemote(_ context.Context, _ Token, _, targetKey string) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Item
	for k, it := range c.remote {
		if targetKey == "" || k == normalizeKey(targetKey) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (c *fakeClient) inject() error {
	if c.failAfter >= 0 && c.mutations == c.failAfter {
		c.failAfter = -1 // one-shot
		return c.failErr
	}
	return nil
}

func (c *fakeClient) Create(_ context.Context, _ Token, _ string, it Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.rateLimitCreates > 0 {
		c.rateLimitCreates--
		return &RateLimitError{Provider: "fake"}
	}
	if err := c.inject(); err != nil {
		return err
	}
	k := normalizeKey(it.Key)
	if _, exists := c.remote[k]; exists {
		return fmt.Errorf("create %q: already exists", it.Key)
	}
	c.remote[k] = it
	c.mutations++
	return nil
}

func (c *fakeClient) Update(_ context.Context, _ Token, _ string, it Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if err := c.inject(); err != nil {
		return err
	}
	k := normalizeKey(it.Key)
	if _, exists := c.remote[k]; !exists {
		return fmt.Errorf("update %q: not found", it.Key)
	}
	c.remote[k] = it
	c.mutations++
	return nil
}

func (c *fakeClient) Delete(_ context.Context, _ Token, _ string, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if err := c.inject(); err != nil {
		return err
	}
	k := normalizeKey(key)
	if _, exists := c.remote[k]; !exists {
		return fmt.Errorf("delete %q: not found", key)
	}
	delete(c.remote, k)
	c.mutations++
	return nil
}

// ─── harness ─────────────────────────────────────────────────────────────────

type harness struct {
	store  *storage.GormStore
	local  *fakeLocal
	client *fakeClient
	creds  *fakeCreds
	spec   *SyncSpec
	exec   *Executor

	mu     sync.Mutex
	events []core.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jobs.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Zero-delay retry policy so failed jobs are immediately claimable.
	store := storage.NewGormStore(db, backoff.New([]time.Duration{0, 0, 0, 0, 0}, time.Hour))
	require.NoError(t, store.Migrate(context.Background()))

	h := &harness{
		store:  store,
		local:  &fakeLocal{},
		client: newFakeClient(),
		creds:  &fakeCreds{},
	}
	h.spec = &SyncSpec{
		Provider: "google-merchant",
		Local:    h.local,
		Client:   h.client,
		Cooldown: -1, // disabled unless a test opts in
	}
	h.exec = New(store, h.creds,
		func(kind string) (*SyncSpec, bool) {
			if kind == "feed-push" {
				return h.spec, true
			}
			return nil, false
		},
		func(e core.Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		},
	)
	return h
}

func (h *harness) enqueue(t *testing.T, kind, targetKey string) *core.Job {
	t.Helper()
	job := &core.Job{TenantID: "t1", Kind: kind, TargetKey: targetKey}
	require.NoError(t, h.store.Enqueue(context.Background(), job))
	return job
}

// runNext claims the next ready job and executes it, returning the refreshed row.
func (h *harness) runNext(t *testing.T) *core.Job {
	t.Helper()
	ctx := context.Background()
	claimed, err := h.store.ClaimReady(ctx, 1, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1, "expected a ready job to claim")
	h.exec.Execute(ctx, claimed[0])

	got, err := h.store.GetJob(ctx, claimed[0].ID)
	require.NoError(t, err)
	return got
}

func (h *harness) enqueueAndRun(t *testing.T, kind, targetKey string) *core.Job {
	t.Helper()
	h.enqueue(t, kind, targetKey)
	return h.runNext(t)
}

func (h *harness) lastEvent() core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return nil
	}
	return h.events[len(h.events)-1]
}

func syncResult(t *testing.T, job *core.Job) core.SyncResult {
	t.Helper()
	var res core.SyncResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	return res
}

// ─── tests ───────────────────────────────────────────────────────────────────

// Local [A,B], remote [B(drifted),C]: create A, update B, delete C.
func TestExecute_FeedPushEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.local.items = []Item{
		item("A", map[string]string{"title": "Widget A", "price": "9.99"}),
		item("B", map[string]string{"title": "Widget B", "price": "19.99"}),
	}
	h.client.remote[normalizeKey("B")] = item("B", map[string]string{"title": "Widget B", "price": "14.99"})
	h.client.remote[normalizeKey("C")] = item("C", map[string]string{"title": "Widget C", "price": "4.99"})

	h.enqueue(t, "feed-push", "")
	job := h.runNext(t)

	assert.Equal(t, core.StatusSuccess, job.Status)
	res := syncResult(t, job)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Deleted)
	assert.False(t, res.Skipped)

	remote := h.client.snapshot()
	require.Len(t, remote, 2)
	assert.Equal(t, "9.99", remote["a"].Attrs["price"])
	assert.Equal(t, "19.99", remote["b"].Attrs["price"])

	_, isSucceeded := h.lastEvent().(*core.JobSucceeded)
	assert.True(t, isSucceeded)
}

// Interrupting the apply after the k-th operation, for every k, must
// converge on retry to the same final state as an uninterrupted run.
func TestExecute_ConvergesAfterPartialFailure(t *testing.T) {
	const totalOps = 4 // 2 creates + 1 update + 1 delete

	for k := 0; k < totalOps; k++ {
		t.Run(fmt.Sprintf("fail_after_%d_ops", k), func(t *testing.T) {
			h := newHarness(t)
			h.local.items = []Item{
				item("A", map[string]string{"title": "Widget A"}),
				item("B", map[string]string{"title": "Widget B"}),
				item("D", map[string]string{"title": "Widget D", "price": "5.00"}),
			}
			h.client.remote[normalizeKey("C")] = item("C", map[string]string{"title": "Widget C"})
			h.client.remote[normalizeKey("D")] = item("D", map[string]string{"title": "Widget D", "price": "4.00"})

			h.client.failAfter = k
			h.client.failErr = errors.New("connection reset by peer")

			job := h.enqueueAndRun(t, "feed-push", "")
			assert.Equal(t, core.StatusQueued, job.Status, "partial failure requeues")
			assert.Contains(t, job.ErrorMessage, fmt.Sprintf("applied %d of %d", k, totalOps))

			// Second attempt recomputes the diff from current state and
			// applies only what is still missing.
			job = h.runNext(t)
			assert.Equal(t, core.StatusSuccess, job.Status)

			remote := h.client.snapshot()
			require.Len(t, remote, 3)
			for _, want := range h.local.items {
				got, ok := remote[normalizeKey(want.Key)]
				require.True(t, ok, "missing %q", want.Key)
				assert.Equal(t, want.Attrs, got.Attrs)
			}
		})
	}
}

// Two enqueue+run cycles within the cooldown window: one real apply, one
// observable skip.
func TestExecute_CooldownSkipIsObservable(t *testing.T) {
	h := newHarness(t)
	h.spec.Cooldown = time.Hour
	h.local.items = []Item{item("A", map[string]string{"title": "Widget A"})}

	job := h.enqueueAndRun(t, "feed-push", "")
	require.Equal(t, core.StatusSuccess, job.Status)
	require.False(t, syncResult(t, job).Skipped)
	mutationsAfterFirst := h.client.mutations

	job = h.enqueueAndRun(t, "feed-push", "")
	assert.Equal(t, core.StatusSuccess, job.Status)
	res := syncResult(t, job)
	assert.True(t, res.Skipped)
	assert.Equal(t, "cooldown", res.Reason)
	assert.Equal(t, mutationsAfterFirst, h.client.mutations, "no second real apply")

	skipped, ok := h.lastEvent().(*core.JobSkipped)
	require.True(t, ok)
	assert.Equal(t, "cooldown", skipped.Reason)
}

func TestExecute_CooldownExpiredRunsAgain(t *testing.T) {
	h := newHarness(t)
	h.spec.Cooldown = time.Minute
	h.local.items = []Item{item("A", map[string]string{"title": "Widget A"})}

	job := h.enqueueAndRun(t, "feed-push", "")
	require.Equal(t, core.StatusSuccess, job.Status)

	// Backdate the run marker past the window.
	require.NoError(t, h.store.RecordRun(context.Background(), "t1", "feed-push",
		time.Now().Add(-2*time.Minute)))

	job = h.enqueueAndRun(t, "feed-push", "")
	assert.Equal(t, core.StatusSuccess, job.Status)
	assert.False(t, syncResult(t, job).Skipped)
}

func TestExecute_TargetKeyNarrowsSync(t *testing.T) {
	h := newHarness(t)
	h.local.items = []Item{
		item("A", map[string]string{"price": "9.99"}),
		item("B", map[string]string{"price": "19.99"}),
	}
	h.client.remote[normalizeKey("A")] = item("A", map[string]string{"price": "1.00"})
	h.client.remote[normalizeKey("ZOMBIE")] = item("ZOMBIE", map[string]string{"price": "0.01"})

	job := h.enqueueAndRun(t, "feed-push", "A")

	assert.Equal(t, core.StatusSuccess, job.Status)
	res := syncResult(t, job)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Deleted)

	remote := h.client.snapshot()
	assert.Equal(t, "9.99", remote["a"].Attrs["price"])
	// Records outside the target key are untouched, even stale ones.
	assert.Contains(t, remote, "zombie")
}

func TestExecute_CredentialFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.creds.err = errors.New("refresh token revoked")

	job := h.enqueueAndRun(t, "feed-push", "")

	assert.Equal(t, core.StatusQueued, job.Status)
	assert.Equal(t, "auth", job.ErrorCode)
	assert.Contains(t, job.ErrorMessage, "credential refresh")
	assert.Equal(t, 1, job.RetryCount)

	_, retrying := h.lastEvent().(*core.JobRetrying)
	assert.True(t, retrying)
}

func TestExecute_RateLimitRetriedInPlace(t *testing.T) {
	h := newHarness(t)
	h.local.items = []Item{item("A", map[string]string{"title": "Widget A"})}
	h.client.rateLimitCreates = 2

	job := h.enqueueAndRun(t, "feed-push", "")

	// One job attempt absorbs the throttle by pacing the call in place.
	assert.Equal(t, core.StatusSuccess, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, 3, h.client.attempts)
}

func TestExecute_RateLimitExhaustionFailsOverToJobBackoff(t *testing.T) {
	h := newHarness(t)
	h.local.items = []Item{item("A", map[string]string{"title": "Widget A"})}
	h.client.rateLimitCreates = 100 // more than the in-place retry budget

	job := h.enqueueAndRun(t, "feed-push", "")

	assert.Equal(t, core.StatusQueued, job.Status)
	assert.Equal(t, "rate_limited", job.ErrorCode)
}

func TestExecute_NoRetryErrorFailsTerminally(t *testing.T) {
	h := newHarness(t)
	h.local.items = []Item{item("A", map[string]string{"title": "Widget A"})}
	h.client.failAfter = 0
	h.client.failErr = core.NoRetry(errors.New("feed schema rejected"))

	job := h.enqueueAndRun(t, "feed-push", "")

	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, "permanent", job.ErrorCode)

	_, failed := h.lastEvent().(*core.JobFailed)
	assert.True(t, failed)
}

func TestExecute_UnknownKindFails(t *testing.T) {
	h := newHarness(t)

	job := &core.Job{TenantID: "t1", Kind: "category-mirror"}
	require.NoError(t, h.store.Enqueue(context.Background(), job))

	got := h.runNext(t)
	assert.Equal(t, core.StatusQueued, got.Status)
	assert.Equal(t, "unknown_kind", got.ErrorCode)
}

func TestExecute_EmptyDiffIsCleanSuccess(t *testing.T) {
	h := newHarness(t)
	attrs := map[string]string{"title": "Widget A"}
	h.local.items = []Item{item("A", attrs)}
	h.client.remote[normalizeKey("A")] = item("A", attrs)

	job := h.enqueueAndRun(t, "feed-push", "")

	assert.Equal(t, core.StatusSuccess, job.Status)
	res := syncResult(t, job)
	assert.Zero(t, res.Created+res.Updated+res.Deleted)
	assert.Zero(t, h.client.mutations)
}
