package sandbox

import (
	"context"
	"sync"

	"github.com/droverhq/drover/pkg/schema"
)

// Fake is a scripted in-memory Sandbox for tests. Executions are served
// from a queue; uploads and executed code are recorded for assertions.
type Fake struct {
	mu        sync.Mutex
	sessions  int
	Uploads   map[string][]byte
	Executed  []string
	queue     []fakeReply
	Default   *Execution
}

type fakeReply struct {
	exec *Execution
	err  error
}

// NewFake creates an empty Fake whose default execution reply is empty
// success.
func NewFake() *Fake {
	return &Fake{
		Uploads: make(map[string][]byte),
		Default: &Execution{},
	}
}

// Queue schedules the next RunCode reply.
func (f *Fake) Queue(exec *Execution) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeReply{exec: exec})
	return f
}

// QueueError schedules the next RunCode call to fail outright.
func (f *Fake) QueueError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeReply{err: err})
	return f
}

func (f *Fake) AcquireSession(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return "fake-session", nil
}

func (f *Fake) WriteFile(_ context.Context, _, path string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads[path] = append([]byte(nil), content...)
	return path, nil
}

func (f *Fake) RunCode(_ context.Context, session, code string) (*Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session == "" {
		return nil, schema.NewError(schema.ErrCodeSandbox, "no session")
	}
	f.Executed = append(f.Executed, code)
	if len(f.queue) > 0 {
		reply := f.queue[0]
		f.queue = f.queue[1:]
		if reply.err != nil {
			return nil, reply.err
		}
		return reply.exec, nil
	}
	return f.Default, nil
}

// Sessions returns how many sessions were acquired.
func (f *Fake) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

var _ Sandbox = (*Fake)(nil)
