// Package report accumulates checklist answers for one location visit and
// renders them into the text handed to the analysis service.
package report

import (
	"errors"
	"fmt"
	"sort"
)

// Verdict is the outcome recorded for a single checklist item.
type Verdict string

const (
	// VerdictClear marks an item with nothing to report.
	VerdictClear Verdict = "clear"
	// VerdictCommented marks an item the operator annotated.
	VerdictCommented Verdict = "commented"
)

var (
	// ErrItemOutOfRange is returned for item indexes outside [1, Size].
	ErrItemOutOfRange = errors.New("report: item out of range")
	// ErrNoActiveItem is returned when no item is currently being answered.
	ErrNoActiveItem = errors.New("report: no active item")
	// ErrNotCommented is returned when a comment or photo targets an item without a commented verdict.
	ErrNotCommented = errors.New("report: item is not commented")
	// ErrUnknownVerdict is returned for verdicts other than clear and commented.
	ErrUnknownVerdict = errors.New("report: unknown verdict")
)

// Report is the structured data collected during one checklist cycle.
type Report struct {
	Location string
	// Size is the configured checklist length N.
	Size int
	// CurrentItem is the item being answered; 0 means none.
	CurrentItem int
	Items       map[int]Verdict
	Comments    map[int]string
	Photos      map[int]string
}

// New returns an empty report for a checklist of the given length.
func New(size int) *Report {
	return &Report{
		Size:     size,
		Items:    make(map[int]Verdict, size),
		Comments: make(map[int]string),
		Photos:   make(map[int]string),
	}
}

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	c := *r
	c.Items = make(map[int]Verdict, len(r.Items))
	for k, v := range r.Items {
		c.Items[k] = v
	}
	c.Comments = make(map[int]string, len(r.Comments))
	for k, v := range r.Comments {
		c.Comments[k] = v
	}
	c.Photos = make(map[int]string, len(r.Photos))
	for k, v := range r.Photos {
		c.Photos[k] = v
	}
	return &c
}

// SetLocation records the chosen location and starts the checklist at item 1.
func (r *Report) SetLocation(location string) {
	r.Location = location
	r.CurrentItem = 1
}

// RecordVerdict sets the verdict for item. Recording the same item twice overwrites it.
func (r *Report) RecordVerdict(item int, v Verdict) error {
	if item < 1 || item > r.Size {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrItemOutOfRange, item, r.Size)
	}
	if v != VerdictClear && v != VerdictCommented {
		return fmt.Errorf("%w: %q", ErrUnknownVerdict, v)
	}
	r.Items[item] = v
	if v == VerdictClear {
		delete(r.Comments, item)
		delete(r.Photos, item)
	}
	return nil
}

// RecordComment attaches text to the active item.
func (r *Report) RecordComment(text string) error {
	item, err := r.activeCommented()
	if err != nil {
		return err
	}
	r.Comments[item] = text
	return nil
}

// RecordPhoto attaches a photo reference to the active item.
func (r *Report) RecordPhoto(ref string) error {
	item, err := r.activeCommented()
	if err != nil {
		return err
	}
	r.Photos[item] = ref
	return nil
}

func (r *Report) activeCommented() (int, error) {
	item := r.CurrentItem
	if item == 0 {
		return 0, ErrNoActiveItem
	}
	if r.Items[item] != VerdictCommented {
		return 0, fmt.Errorf("%w: %d", ErrNotCommented, item)
	}
	return item, nil
}

// Advance moves to the next item. When the last item has been answered it
// clears CurrentItem and reports done.
func (r *Report) Advance() (next int, done bool) {
	if r.CurrentItem < r.Size {
		r.CurrentItem++
		return r.CurrentItem, false
	}
	r.CurrentItem = 0
	return 0, true
}

// Validate checks the structural invariants of the report.
func (r *Report) Validate() error {
	if r.CurrentItem < 0 || r.CurrentItem > r.Size {
		return fmt.Errorf("%w: current item %d", ErrItemOutOfRange, r.CurrentItem)
	}
	for item, v := range r.Items {
		if item < 1 || item > r.Size {
			return fmt.Errorf("%w: %d", ErrItemOutOfRange, item)
		}
		if v != VerdictClear && v != VerdictCommented {
			return fmt.Errorf("%w: %q at item %d", ErrUnknownVerdict, v, item)
		}
	}
	for _, keys := range [][]int{sortedKeys(r.Comments), sortedKeys(r.Photos)} {
		for _, item := range keys {
			if r.Items[item] != VerdictCommented {
				return fmt.Errorf("%w: %d", ErrNotCommented, item)
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
