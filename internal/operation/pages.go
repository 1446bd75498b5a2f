package operation

import (
	"fmt"
	"strconv"
	"strings"
)

// PageRange is an inclusive 1-indexed interval. To == 0 means "through the
// last page".
type PageRange struct {
	From int
	To   int
}

// OpenEnded reports whether the range runs to the end of the document.
func (r PageRange) OpenEnded() bool { return r.To == 0 }

func (r PageRange) String() string {
	switch {
	case r.OpenEnded():
		return fmt.Sprintf("%d-", r.From)
	case r.From == r.To:
		return strconv.Itoa(r.From)
	default:
		return fmt.Sprintf("%d-%d", r.From, r.To)
	}
}

// PageSet is an ordered selection of page intervals, or every page.
// The zero value selects nothing and is treated as "not provided".
type PageSet struct {
	all    bool
	ranges []PageRange
}

// AllPages selects every page of the document.
func AllPages() PageSet { return PageSet{all: true} }

// Pages builds a page set from explicit ranges.
func Pages(ranges ...PageRange) PageSet {
	return PageSet{ranges: append([]PageRange(nil), ranges...)}
}

// IsAll reports whether the set selects every page.
func (p PageSet) IsAll() bool { return p.all }

// IsZero reports whether no selection was provided.
func (p PageSet) IsZero() bool { return !p.all && len(p.ranges) == 0 }

// Ranges returns a copy of the selected intervals.
func (p PageSet) Ranges() []PageRange {
	return append([]PageRange(nil), p.ranges...)
}

// String renders the set in the tool's --pages syntax.
func (p PageSet) String() string {
	if p.all {
		return "all"
	}
	parts := make([]string, 0, len(p.ranges))
	for _, r := range p.ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// ParsePageSet parses "all" or a comma separated list of pages and ranges
// such as "1,3-5,7-". Whitespace is ignored.
func ParsePageSet(raw string) (PageSet, error) {
	spec := strings.Join(strings.Fields(raw), "")
	if spec == "" {
		return PageSet{}, fmt.Errorf("page specification is empty")
	}
	if strings.EqualFold(spec, "all") {
		return AllPages(), nil
	}

	parts := strings.Split(spec, ",")
	ranges := make([]PageRange, 0, len(parts))
	for _, part := range parts {
		r, err := parsePageRange(part)
		if err != nil {
			return PageSet{}, err
		}
		ranges = append(ranges, r)
	}
	return PageSet{ranges: ranges}, nil
}

func parsePageRange(part string) (PageRange, error) {
	if part == "" {
		return PageRange{}, fmt.Errorf("empty entry in page specification")
	}

	from, to, isRange := strings.Cut(part, "-")
	start, err := parsePageNumber(from)
	if err != nil {
		return PageRange{}, fmt.Errorf("invalid page %q: %w", part, err)
	}
	if !isRange {
		return PageRange{From: start, To: start}, nil
	}
	if to == "" {
		return PageRange{From: start}, nil
	}

	end, err := parsePageNumber(to)
	if err != nil {
		return PageRange{}, fmt.Errorf("invalid page range %q: %w", part, err)
	}
	if end < start {
		return PageRange{}, fmt.Errorf("invalid page range %q: end precedes start", part)
	}
	return PageRange{From: start, To: end}, nil
}

func parsePageNumber(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing page number")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("page numbers must be digits")
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("pages are 1-indexed")
	}
	return n, nil
}
