package ogimage

import "errors"

var ErrNoVariants = errors.New("optimizer returned no image variants")

// Variant is one encoded output of the optimizer.
type Variant struct {
	Format     string
	SourceType string
	Width      int
	Height     int
	Buffer     []byte
}

// Result groups variants by output format and remembers the order formats were added in.
type Result struct {
	order    []string
	variants map[string][]Variant
}

func NewResult() *Result {
	return &Result{variants: make(map[string][]Variant)}
}

// Add appends v under its format. A format keeps its original position when added again.
func (r *Result) Add(v Variant) {
	if _, ok := r.variants[v.Format]; !ok {
		r.order = append(r.order, v.Format)
	}
	r.variants[v.Format] = append(r.variants[v.Format], v)
}

// Formats returns the formats in insertion order.
func (r *Result) Formats() []string {
	return append([]string(nil), r.order...)
}

func (r *Result) Variants(format string) []Variant {
	return r.variants[format]
}

// Last returns the first variant of the most recently added format.
func (r *Result) Last() (string, Variant, error) {
	if r == nil || len(r.order) == 0 {
		return "", Variant{}, ErrNoVariants
	}
	format := r.order[len(r.order)-1]
	vs := r.Variants(format)
	if len(vs) == 0 {
		return "", Variant{}, ErrNoVariants
	}
	return format, vs[0], nil
}
