package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/droverhq/drover/pkg/schema"
)

// MemoryStore is an in-memory Store used in tests and ephemeral runs. It
// round-trips state through the codec so serialization bugs surface in
// tests the same way they would against libSQL.
type MemoryStore struct {
	mu          sync.Mutex
	runs        map[string]*Run
	checkpoints map[string][]*storedCheckpoint
	events      []*Event
	nextEventID int64
}

type storedCheckpoint struct {
	superstep int
	state     []byte
	frontier  []string
	interrupt *schema.InterruptPayload
	createdAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*Run),
		checkpoints: make(map[string][]*storedCheckpoint),
	}
}

func (m *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID)
	}
	r := *run
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	m.runs[run.ID] = &r
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, storeNotFound("run", runID)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Run
	for _, r := range m.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateRunStatus(_ context.Context, runID string, status schema.RunStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return storeNotFound("run", runID)
	}
	r.Status = status
	r.Error = errMsg
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return storeNotFound("run", runID)
	}
	delete(m.runs, runID)
	delete(m.checkpoints, runID)
	return nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	state, err := EncodeState(cp.State)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.RunID] = append(m.checkpoints[cp.RunID], &storedCheckpoint{
		superstep: cp.Superstep,
		state:     state,
		frontier:  append([]string(nil), cp.Frontier...),
		interrupt: cp.Interrupt,
		createdAt: time.Now().UTC(),
	})
	return nil
}

func (m *MemoryStore) LatestCheckpoint(_ context.Context, runID string) (*Checkpoint, error) {
	m.mu.Lock()
	cps := m.checkpoints[runID]
	if len(cps) == 0 {
		m.mu.Unlock()
		return nil, nil
	}
	last := cps[len(cps)-1]
	m.mu.Unlock()

	state, err := DecodeState(last.state)
	if err != nil {
		return nil, err
	}
	cp := &Checkpoint{
		RunID:     runID,
		Superstep: last.superstep,
		State:     state,
		Frontier:  append([]string(nil), last.frontier...),
		CreatedAt: last.createdAt,
	}
	if last.interrupt != nil {
		i := *last.interrupt
		cp.Interrupt = &i
	}
	return cp, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	e := *event
	e.ID = m.nextEventID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, &e)
	event.ID = e.ID
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, runID string, afterID int64, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.RunID != runID || e.ID <= afterID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
