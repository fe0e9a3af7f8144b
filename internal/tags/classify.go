package tags

import (
	"strings"
	"time"

	"github.com/yairfalse/tagsweep/pkg/resource"
)

// DateLayout is the creation date format used in reports.
const DateLayout = "2006-01-02"

// Classifier resolves the classification key and metadata from a tag map.
// All lookups are case-sensitive; alias lists are tried in order.
type Classifier struct {
	// KeyTags is the ordered list of tag names for the classification key.
	KeyTags     []string
	OwnerTags   []string
	UserTags    []string
	CreatedTags []string

	// Aliases maps a classification tag name to alternative spellings that
	// are tried after it.
	Aliases map[string][]string
}

// DefaultClassifier returns the tag names used across the estate.
func DefaultClassifier() Classifier {
	return Classifier{
		KeyTags:     []string{"VSAD"},
		OwnerTags:   []string{"Owner", "owner"},
		UserTags:    []string{"User", "UserID", "user"},
		CreatedTags: []string{"creationdate", "CreationDate", "BornDate"},
		Aliases:     map[string][]string{},
	}
}

// ForKey returns a copy classifying by tagName and its configured aliases.
// An empty tagName keeps the current key tags.
func (c Classifier) ForKey(tagName string) Classifier {
	if tagName == "" {
		return c
	}
	keys := append([]string{tagName}, c.Aliases[tagName]...)
	c.KeyTags = keys
	return c
}

// Classification is the result of classifying one tag snapshot.
type Classification struct {
	Key         string
	Owner       string
	User        string
	CreatedDate string
}

// Classify resolves the classification from tags. A missing classification
// tag yields resource.Unclassified; missing metadata yields "Unknown".
// createdAt is used when no creation tag exists and is ignored when zero.
func (c Classifier) Classify(tags map[string]string, createdAt time.Time) Classification {
	out := Classification{
		Key:         lookup(tags, c.KeyTags, resource.Unclassified),
		Owner:       lookup(tags, c.OwnerTags, resource.UnknownValue),
		User:        lookup(tags, c.UserTags, resource.UnknownValue),
		CreatedDate: lookup(tags, c.CreatedTags, ""),
	}
	if out.CreatedDate == "" {
		if createdAt.IsZero() {
			out.CreatedDate = resource.UnknownValue
		} else {
			out.CreatedDate = createdAt.UTC().Format(DateLayout)
		}
	}
	return out
}

// lookup returns the first non-blank value among names.
func lookup(tags map[string]string, names []string, fallback string) string {
	for _, name := range names {
		if v, ok := tags[name]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return fallback
}
