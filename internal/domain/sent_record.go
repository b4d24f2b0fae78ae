package domain

import (
	"encoding/json"
	"sort"
)

// SentRecord is the set of order IDs already notified, per marketplace.
// An order ID appears at most once per marketplace and insertion order is
// kept so the persisted document stays stable between runs.
type SentRecord struct {
	ids   map[Marketplace][]string
	index map[Marketplace]map[string]struct{}
}

func NewSentRecord(marketplaces ...Marketplace) *SentRecord {
	r := &SentRecord{
		ids:   make(map[Marketplace][]string),
		index: make(map[Marketplace]map[string]struct{}),
	}
	for _, m := range marketplaces {
		r.Ensure(m)
	}
	return r
}

// Ensure creates an empty set for the marketplace if it has none.
func (r *SentRecord) Ensure(m Marketplace) {
	if _, ok := r.index[m]; ok {
		return
	}
	r.ids[m] = []string{}
	r.index[m] = make(map[string]struct{})
}

func (r *SentRecord) Contains(m Marketplace, orderID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.index[m][orderID]
	return ok
}

// MarkSent adds the order ID. It reports false when the ID was already there.
func (r *SentRecord) MarkSent(m Marketplace, orderID string) bool {
	r.Ensure(m)
	if _, ok := r.index[m][orderID]; ok {
		return false
	}
	r.index[m][orderID] = struct{}{}
	r.ids[m] = append(r.ids[m], orderID)
	return true
}

// OrderIDs returns a copy of the marketplace's IDs in insertion order.
func (r *SentRecord) OrderIDs(m Marketplace) []string {
	if r == nil {
		return nil
	}
	ids := r.ids[m]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Marketplaces returns the known marketplaces sorted by name.
func (r *SentRecord) Marketplaces() []Marketplace {
	if r == nil {
		return nil
	}
	out := make([]Marketplace, 0, len(r.ids))
	for m := range r.ids {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *SentRecord) Len() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, ids := range r.ids {
		total += len(ids)
	}
	return total
}

func (r *SentRecord) Clone() *SentRecord {
	clone := NewSentRecord()
	if r == nil {
		return clone
	}
	for _, m := range r.Marketplaces() {
		clone.Ensure(m)
		for _, id := range r.ids[m] {
			clone.MarkSent(m, id)
		}
	}
	return clone
}

func (r *SentRecord) MarshalJSON() ([]byte, error) {
	doc := make(map[string][]string, len(r.ids))
	for m, ids := range r.ids {
		doc[string(m)] = ids
	}
	return json.Marshal(doc)
}

// UnmarshalJSON accepts {"marketplace": ["id", ...]}. Null arrays become
// empty sets and duplicate IDs collapse to their first occurrence.
func (r *SentRecord) UnmarshalJSON(data []byte) error {
	var doc map[string][]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	fresh := NewSentRecord()
	for name, ids := range doc {
		m := Marketplace(name)
		fresh.Ensure(m)
		for _, id := range ids {
			fresh.MarkSent(m, id)
		}
	}
	*r = *fresh
	return nil
}
