package subscription

import (
	"slices"

	"github.com/nbd-wtf/go-nostr"
)

// MergeFilters folds several filters into one: list fields are unioned,
// since takes the minimum, until and limit the maximum. A missing bound on any
// input means the merged filter is unbounded on that side.
//
// The merge is lossy: {authors:[X]} merged with {ids:[Y]} only matches records
// carrying both, which neither input asked for. Short-lived queries send the
// filters side by side instead; only long-lived subscriptions use the merged form.
func MergeFilters(filters nostr.Filters) nostr.Filter {
	var out nostr.Filter
	if len(filters) == 0 {
		return out
	}

	sinceOpen, untilOpen, limitOpen := false, false, false

	for _, f := range filters {
		out.IDs = union(out.IDs, f.IDs)
		out.Authors = union(out.Authors, f.Authors)
		out.Kinds = union(out.Kinds, f.Kinds)

		if len(f.Tags) > 0 {
			if out.Tags == nil {
				out.Tags = make(nostr.TagMap, len(f.Tags))
			}
			for k, vals := range f.Tags {
				out.Tags[k] = union(out.Tags[k], vals)
			}
		}

		switch {
		case f.Since == nil:
			sinceOpen = true
		case out.Since == nil || *f.Since < *out.Since:
			s := *f.Since
			out.Since = &s
		}

		switch {
		case f.Until == nil:
			untilOpen = true
		case out.Until == nil || *f.Until > *out.Until:
			u := *f.Until
			out.Until = &u
		}

		if f.Limit <= 0 {
			limitOpen = true
		} else if f.Limit > out.Limit {
			out.Limit = f.Limit
		}
	}

	if sinceOpen {
		out.Since = nil
	}
	if untilOpen {
		out.Until = nil
	}
	if limitOpen {
		out.Limit = 0
	}
	return out
}

func union[T comparable](dst, src []T) []T {
	for _, v := range src {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
