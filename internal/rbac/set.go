package rbac

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// PermissionSet is an unordered collection of permissions. Only membership is
// meaningful. Sets are not safe for concurrent mutation; resolvers hand out
// fresh copies.
type PermissionSet struct {
	set mapset.Set[Permission]
}

// NewPermissionSet builds a set from perms, collapsing duplicates.
func NewPermissionSet(perms ...Permission) PermissionSet {
	return PermissionSet{set: mapset.NewThreadUnsafeSet[Permission](perms...)}
}

// Has reports membership of perm.
func (p PermissionSet) Has(perm Permission) bool {
	if p.set == nil {
		return false
	}
	return p.set.Contains(perm)
}

// Add inserts perms. The set must have been built with NewPermissionSet.
func (p PermissionSet) Add(perms ...Permission) {
	for _, perm := range perms {
		p.set.Add(perm)
	}
}

// Union returns a new set holding members of both sets.
func (p PermissionSet) Union(other PermissionSet) PermissionSet {
	out := p.Clone()
	out.Add(other.Slice()...)
	return out
}

// Clone returns an independent copy.
func (p PermissionSet) Clone() PermissionSet {
	if p.set == nil {
		return NewPermissionSet()
	}
	return PermissionSet{set: p.set.Clone()}
}

// Len returns the number of members.
func (p PermissionSet) Len() int {
	if p.set == nil {
		return 0
	}
	return p.set.Cardinality()
}

// Slice returns the members in unspecified order.
func (p PermissionSet) Slice() []Permission {
	if p.set == nil {
		return nil
	}
	return p.set.ToSlice()
}

// Sorted returns the members sorted by name.
func (p PermissionSet) Sorted() []Permission {
	out := p.Slice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings.
func (p PermissionSet) Strings() []string {
	sorted := p.Sorted()
	out := make([]string, len(sorted))
	for i, perm := range sorted {
		out[i] = string(perm)
	}
	return out
}

// Equal reports whether both sets hold exactly the same members.
func (p PermissionSet) Equal(other PermissionSet) bool {
	if p.Len() != other.Len() {
		return false
	}
	for _, perm := range p.Slice() {
		if !other.Has(perm) {
			return false
		}
	}
	return true
}
