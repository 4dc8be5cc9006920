package subscription

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func ts(v int64) *nostr.Timestamp {
	t := nostr.Timestamp(v)
	return &t
}

func TestMergeFilters(t *testing.T) {
	merged := MergeFilters(nostr.Filters{
		{Kinds: []int{10003}, Authors: []string{"alice"}, Since: ts(200), Until: ts(300), Limit: 1},
		{Kinds: []int{1, 10003}, IDs: []string{"evt1"}, Since: ts(100), Until: ts(500), Limit: 20,
			Tags: nostr.TagMap{"e": {"x"}}},
		{Authors: []string{"bob", "alice"}, Since: ts(150), Until: ts(400), Limit: 5,
			Tags: nostr.TagMap{"e": {"y", "x"}, "p": {"z"}}},
	})

	assert.Equal(t, []int{10003, 1}, merged.Kinds)
	assert.Equal(t, []string{"alice", "bob"}, merged.Authors)
	assert.Equal(t, []string{"evt1"}, merged.IDs)
	assert.Equal(t, nostr.TagMap{"e": {"x", "y"}, "p": {"z"}}, merged.Tags)
	assert.Equal(t, nostr.Timestamp(100), *merged.Since)
	assert.Equal(t, nostr.Timestamp(500), *merged.Until)
	assert.Equal(t, 20, merged.Limit)
}

func TestMergeFiltersOpenBounds(t *testing.T) {
	merged := MergeFilters(nostr.Filters{
		{Kinds: []int{1}, Since: ts(100), Limit: 10},
		{Kinds: []int{1}, Until: ts(50)},
	})

	assert.Nil(t, merged.Since, "an unbounded input keeps since open")
	assert.Nil(t, merged.Until, "an unbounded input keeps until open")
	assert.Zero(t, merged.Limit, "an unlimited input keeps the limit open")
}

func TestMergeFiltersEmpty(t *testing.T) {
	assert.Equal(t, nostr.Filter{}, MergeFilters(nil))
}
