package publish

import (
	"context"
	"fmt"
	"sync"
)

// fakePublisher records calls and fails according to its hooks.
type fakePublisher struct {
	mu        sync.Mutex
	calls     []string
	authed    bool
	reauths   int
	reauthErr error
	// failNext is consumed one error per remote write.
	failNext []error
	seq      int
}

func (f *fakePublisher) record(call string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if len(f.failNext) > 0 {
		err := f.failNext[0]
		f.failNext = f.failNext[1:]
		if err != nil {
			return Result{}, err
		}
	}
	f.seq++
	return Result{ID: fmt.Sprintf("id-%d", f.seq)}, nil
}

func (f *fakePublisher) PublishSingle(_ context.Context, image, caption string) (Result, error) {
	return f.record(fmt.Sprintf("single:%s:%s", image, caption))
}

func (f *fakePublisher) PublishAlbum(_ context.Context, images []string, caption string) (Result, error) {
	return f.record(fmt.Sprintf("album:%d:%s", len(images), caption))
}

func (f *fakePublisher) PublishStory(_ context.Context, image string) (Result, error) {
	return f.record("story:" + image)
}

func (f *fakePublisher) IsAuthenticated(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakePublisher) Reauthenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauths++
	if f.reauthErr != nil {
		return f.reauthErr
	}
	f.authed = true
	return nil
}

func (f *fakePublisher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
