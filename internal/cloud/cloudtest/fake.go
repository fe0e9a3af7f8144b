// Package cloudtest provides an in-memory cloud.Source for tests.
package cloudtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Source is a scriptable cloud.Source. Funcs left nil fall back to defaults:
// every resource attached, no tags, remediation succeeds.
type Source struct {
	// Pages per kind, served in order.
	Listing map[resource.Kind][][]resource.Raw

	// PageErr is returned by the page fetch at PageErrAt, PageErrTimes times.
	PageErr      error
	PageErrAt    int
	PageErrTimes int

	DescribeAttachmentFunc func(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error)
	TagsFunc               func(ctx context.Context, raw resource.Raw) (map[string]string, error)
	RemediateFunc          func(ctx context.Context, raw resource.Raw, action cloud.Action) error
	EnrichFunc             func(ctx context.Context, raw resource.Raw) (map[string]string, error)
	TargetPortsFunc        func(ctx context.Context, raw resource.Raw) (map[string][]int32, error)

	Actions map[resource.Kind]cloud.Action

	mu         sync.Mutex
	remediated []string
	pageCalls  int
	closed     bool
}

// Name returns the provider identifier.
func (s *Source) Name() string { return "fake" }

// Kinds lists configured kinds.
func (s *Source) Kinds() []resource.Kind {
	kinds := make([]resource.Kind, 0, len(s.Listing))
	for k := range s.Listing {
		kinds = append(kinds, k)
	}
	return kinds
}

// Pages serves the configured pages for kind.
func (s *Source) Pages(kind resource.Kind, f *filter.Filter) (cloud.Pager, error) {
	pages, ok := s.Listing[kind]
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", kind, cloud.ErrUnsupported)
	}
	idx := 0
	failures := 0
	fetch := func(ctx context.Context, token *string) ([]resource.Raw, *string, error) {
		s.mu.Lock()
		s.pageCalls++
		s.mu.Unlock()

		if s.PageErr != nil && idx == s.PageErrAt && failures < s.PageErrTimes {
			failures++
			return nil, nil, s.PageErr
		}
		if len(pages) == 0 {
			return nil, nil, nil
		}
		page := pages[idx]
		idx++
		if idx >= len(pages) {
			return page, nil, nil
		}
		next := fmt.Sprintf("page-%d", idx)
		return page, &next, nil
	}
	return cloud.NewTokenPager(fetch, f), nil
}

// DescribeAttachment delegates to DescribeAttachmentFunc.
func (s *Source) DescribeAttachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	if s.DescribeAttachmentFunc != nil {
		return s.DescribeAttachmentFunc(ctx, raw)
	}
	return resource.Attached, nil
}

// Tags delegates to TagsFunc.
func (s *Source) Tags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	if s.TagsFunc != nil {
		return s.TagsFunc(ctx, raw)
	}
	return map[string]string{}, nil
}

// Remediation returns the configured action for kind.
func (s *Source) Remediation(kind resource.Kind) (cloud.Action, bool) {
	a, ok := s.Actions[kind]
	return a, ok
}

// Remediate records the call and delegates to RemediateFunc.
func (s *Source) Remediate(ctx context.Context, raw resource.Raw, action cloud.Action) error {
	s.mu.Lock()
	s.remediated = append(s.remediated, raw.ID)
	s.mu.Unlock()
	if s.RemediateFunc != nil {
		return s.RemediateFunc(ctx, raw, action)
	}
	return nil
}

// Enrich delegates to EnrichFunc.
func (s *Source) Enrich(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	if s.EnrichFunc != nil {
		return s.EnrichFunc(ctx, raw)
	}
	return nil, nil
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// TargetPorts delegates to TargetPortsFunc.
func (s *Source) TargetPorts(ctx context.Context, raw resource.Raw) (map[string][]int32, error) {
	if s.TargetPortsFunc != nil {
		return s.TargetPortsFunc(ctx, raw)
	}
	return map[string][]int32{}, nil
}

// Remediated returns the IDs passed to Remediate, in call order.
func (s *Source) Remediated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.remediated...)
}

// PageCalls returns how many page fetches were made.
func (s *Source) PageCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCalls
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Tagged builds a raw resource with inline tags.
func Tagged(kind resource.Kind, id string, tags map[string]string) resource.Raw {
	if tags == nil {
		tags = map[string]string{}
	}
	return resource.Raw{ID: id, Kind: kind, Provider: "fake", Region: "test-1", Name: id, Tags: tags}
}
