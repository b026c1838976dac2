// Package dispatch is the decision core of the push service. It turns an application
// and a message's send criteria into a platform-partitioned set of target variants,
// resolves each variant's device endpoints and hands them to the matching platform sender.
package dispatch

import (
	"sort"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Classify returns the platform of v. The second result is false for a nil variant.
func Classify(v push.Variant) (push.Kind, bool) {
	switch tv := v.(type) {
	case *push.AndroidVariant:
		return push.KindAndroid, tv != nil
	case *push.IOSVariant:
		return push.KindIOS, tv != nil
	case *push.SimplePushVariant:
		return push.KindSimplePush, tv != nil
	case *push.ChromePackagedAppVariant:
		return push.KindChromePackagedApp, tv != nil
	default:
		return "", false
	}
}

// TargetSet holds the variants a message is routed to, one set per platform.
// Variants are deduplicated by variant ID.
type TargetSet struct {
	sets map[push.Kind]map[string]push.Variant
}

// NewTargetSet returns an empty set for every platform.
func NewTargetSet() *TargetSet {
	sets := make(map[push.Kind]map[string]push.Variant, len(push.Kinds))
	for _, k := range push.Kinds {
		sets[k] = make(map[string]push.Variant)
	}
	return &TargetSet{sets: sets}
}

// Partition classifies variants into a new TargetSet.
func Partition(variants ...push.Variant) *TargetSet {
	ts := NewTargetSet()
	for _, v := range variants {
		ts.Add(v)
	}
	return ts
}

// Add inserts v into the set of its platform. It returns false when v was
// already present or cannot be classified.
func (t *TargetSet) Add(v push.Variant) bool {
	kind, ok := Classify(v)
	if !ok {
		return false
	}
	set := t.sets[kind]
	if _, exists := set[v.VariantID()]; exists {
		return false
	}
	set[v.VariantID()] = v
	return true
}

// Variants returns the variants targeted on one platform, ordered by ID.
func (t *TargetSet) Variants(kind push.Kind) []push.Variant {
	set := t.sets[kind]
	out := make([]push.Variant, 0, len(set))
	for _, v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID() < out[j].VariantID() })
	return out
}

// Len is the number of variants targeted on one platform.
func (t *TargetSet) Len(kind push.Kind) int {
	return len(t.sets[kind])
}

// Total is the number of variants targeted across all platforms.
func (t *TargetSet) Total() int {
	n := 0
	for _, set := range t.sets {
		n += len(set)
	}
	return n
}
