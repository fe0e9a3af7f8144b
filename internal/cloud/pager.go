package cloud

import (
	"context"

	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// PageFunc fetches the page at token and returns the next token, or nil when done.
type PageFunc func(ctx context.Context, token *string) ([]resource.Raw, *string, error)

// TokenPager drives a token-based listing API.
type TokenPager struct {
	fetch     PageFunc
	filter    *filter.Filter
	token     *string
	firstPage bool
}

// NewTokenPager returns a pager that applies filter to every page.
func NewTokenPager(fetch PageFunc, f *filter.Filter) *TokenPager {
	return &TokenPager{fetch: fetch, filter: f, firstPage: true}
}

// HasMorePages reports whether another page is available.
func (p *TokenPager) HasMorePages() bool {
	if p.firstPage {
		return true
	}
	return p.token != nil && *p.token != ""
}

// NextPage fetches the next page. State only advances on success.
func (p *TokenPager) NextPage(ctx context.Context) ([]resource.Raw, error) {
	items, next, err := p.fetch(ctx, p.token)
	if err != nil {
		return nil, err
	}
	p.firstPage = false
	p.token = next
	return p.filter.Apply(items), nil
}

// Drain collects all pages. Used where retry is not wanted, such as tests.
func Drain(ctx context.Context, p Pager) ([]resource.Raw, error) {
	var out []resource.Raw
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}
