package runtime

import (
	"context"
	"fmt"
)

// Multi fans several runtimes into one. Refs carry their Source, which is
// used to route sample calls back to the runtime that listed them.
type Multi struct {
	runtimes []Runtime
	bySource map[string]Runtime
}

func NewMulti(runtimes ...Runtime) *Multi {
	m := &Multi{bySource: make(map[string]Runtime, len(runtimes))}
	for _, r := range runtimes {
		if r == nil {
			continue
		}
		m.runtimes = append(m.runtimes, r)
		m.bySource[r.Name()] = r
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

// ListEntities lists every runtime. When some fail, entities of the others are
// returned together with a *ListError naming the failed sources.
func (m *Multi) ListEntities(ctx context.Context) ([]EntityRef, error) {
	var refs []EntityRef
	var failed map[string]error
	for _, r := range m.runtimes {
		list, err := r.ListEntities(ctx)
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[r.Name()] = err
			continue
		}
		refs = append(refs, list...)
	}
	if failed != nil {
		return refs, &ListError{Failed: failed}
	}
	return refs, nil
}

func (m *Multi) SampleMetrics(ctx context.Context, ref EntityRef) (RawSample, error) {
	r, err := m.route(ref)
	if err != nil {
		return RawSample{}, err
	}
	return r.SampleMetrics(ctx, ref)
}

func (m *Multi) GetRestartCount(ctx context.Context, ref EntityRef) (int, error) {
	r, err := m.route(ref)
	if err != nil {
		return 0, err
	}
	return r.GetRestartCount(ctx, ref)
}

func (m *Multi) route(ref EntityRef) (Runtime, error) {
	r, ok := m.bySource[ref.Source]
	if !ok {
		return nil, fmt.Errorf("no runtime for source %q", ref.Source)
	}
	return r, nil
}

var _ Runtime = (*Multi)(nil)
