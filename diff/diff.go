package diff

import (
	sectionsense "github.com/jacobmichels/Section-Sense-Go"
)

// Compute returns the sections present only in current (added) and only in previous (removed).
// Identity is the section key alone, a section whose other fields changed is unchanged.
func Compute(previous, current sectionsense.Snapshot) sectionsense.Diff {
	var result sectionsense.Diff

	for key, section := range current {
		if _, ok := previous[key]; !ok {
			result.Added = append(result.Added, section)
		}
	}
	for key, section := range previous {
		if _, ok := current[key]; !ok {
			result.Removed = append(result.Removed, section)
		}
	}

	sectionsense.SortSections(result.Added)
	sectionsense.SortSections(result.Removed)

	return result
}
