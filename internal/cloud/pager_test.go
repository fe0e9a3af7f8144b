package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

func pagesFetcher(pages [][]resource.Raw, failAt int, failErr error) (PageFunc, *int) {
	calls := 0
	failed := false
	return func(_ context.Context, token *string) ([]resource.Raw, *string, error) {
		calls++
		idx := 0
		if token != nil {
			idx = int((*token)[0] - '0')
		}
		if idx == failAt && !failed {
			failed = true
			return nil, nil, failErr
		}
		if idx+1 < len(pages) {
			next := string(rune('0' + idx + 1))
			return pages[idx], &next, nil
		}
		return pages[idx], nil, nil
	}, &calls
}

func TestTokenPager_DrainsAllPages(t *testing.T) {
	pages := [][]resource.Raw{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "c"}},
		{{ID: "d"}, {ID: "e"}},
	}
	fetch, calls := pagesFetcher(pages, -1, nil)

	all, err := Drain(context.Background(), NewTokenPager(fetch, nil))

	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, 3, *calls)
}

func TestTokenPager_FailedPageCanBeRepeated(t *testing.T) {
	pages := [][]resource.Raw{{{ID: "a"}}, {{ID: "b"}}}
	fetch, _ := pagesFetcher(pages, 1, errors.New("throttled"))
	p := NewTokenPager(fetch, nil)
	ctx := context.Background()

	first, err := p.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first[0].ID)

	_, err = p.NextPage(ctx)
	require.Error(t, err)
	assert.True(t, p.HasMorePages(), "token must not advance on failure")

	second, err := p.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second[0].ID)
	assert.False(t, p.HasMorePages())
}

func TestTokenPager_EmptyListing(t *testing.T) {
	fetch := func(context.Context, *string) ([]resource.Raw, *string, error) {
		return nil, nil, nil
	}
	all, err := Drain(context.Background(), NewTokenPager(fetch, nil))
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTokenPager_EmptyTokenEndsListing(t *testing.T) {
	empty := ""
	fetch := func(context.Context, *string) ([]resource.Raw, *string, error) {
		return []resource.Raw{{ID: "a"}}, &empty, nil
	}
	all, err := Drain(context.Background(), NewTokenPager(fetch, nil))
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTokenPager_AppliesFilter(t *testing.T) {
	fetch := func(context.Context, *string) ([]resource.Raw, *string, error) {
		return []resource.Raw{{ID: "1", Name: "eks-a"}, {ID: "2", Name: "web"}}, nil, nil
	}
	f := filter.New(filter.Config{NameContains: "eks"})

	all, err := Drain(context.Background(), NewTokenPager(fetch, f))

	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "1", all[0].ID)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("b", func(context.Context) (Source, error) { return nil, errors.New("b") })
	r.Register("a", func(context.Context) (Source, error) { return nil, errors.New("a") })

	assert.Equal(t, []string{"a", "b"}, r.Names())

	_, err := r.Open(context.Background(), "a")
	assert.EqualError(t, err, "a")

	_, err = r.Open(context.Background(), "gcp")
	assert.ErrorContains(t, err, `unknown provider "gcp"`)
}
