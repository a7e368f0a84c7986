package pipeline

import "sort"

// Filter drops rows with a missing timestamp or any missing required
// measurement, then sorts the survivors ascending by timestamp. Duplicate
// timestamps keep the first occurrence in presentation order, matching the
// consolidation tie-break, so both paths resolve ties the same way.
// Returns the dataset and the number of rows dropped.
func Filter(rows []CanonicalRow, required []string) (Dataset, int) {
	kept := make(Dataset, 0, len(rows))
	seen := make(map[int64]bool, len(rows))
	dropped := 0

	for i := range rows {
		row := &rows[i]
		if !valid(row, required) {
			dropped++
			continue
		}
		key := row.Timestamp.Unix()
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		kept = append(kept, *row)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})
	return kept, dropped
}

func valid(row *CanonicalRow, required []string) bool {
	if row.Timestamp.IsZero() {
		return false
	}
	for _, name := range required {
		if row.Field(name) == nil {
			return false
		}
	}
	return true
}
