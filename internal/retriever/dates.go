package retriever

import "iter"

// Dates returns the days from start to end, both inclusive, in ascending order.
// The sequence can be ranged over any number of times.
func Dates(start, end Date) (iter.Seq[Date], error) {
	if end.Before(start) {
		return nil, &InvalidRangeError{Start: start, End: end}
	}

	return func(yield func(Date) bool) {
		for d := start; !d.After(end); d = d.AddDays(1) {
			if !yield(d) {
				return
			}
		}
	}, nil
}

// Count returns the number of dates Dates(start, end) yields, or 0 for an invalid range.
func Count(start, end Date) int {
	if end.Before(start) {
		return 0
	}

	return start.DaysUntil(end) + 1
}
