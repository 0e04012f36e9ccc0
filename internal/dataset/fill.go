package dataset

import (
	"sort"
	"strconv"
	"strings"
)

// FillMissing returns a copy of the table with blank target cells filled by
// the given method ("ffill", "bfill", "mean", "median", "zero"). When group
// columns are given, filling happens within groups keyed by their combined
// values, so that one series never leaks values into another. "none" and ""
// leave the table untouched.
func FillMissing(t *Table, targetColumn, method string, groupColumns []string) *Table {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" || method == "none" {
		return t
	}

	out := NewTable(t.Columns...)
	for _, rec := range t.Records {
		cp := make(map[string]string, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		out.Append(cp)
	}

	groups := make(map[string][]int)
	for i, rec := range out.Records {
		key := groupKey(rec, groupColumns)
		groups[key] = append(groups[key], i)
	}

	for _, indices := range groups {
		fillGroup(out, indices, targetColumn, method)
	}

	return out
}

func groupKey(rec map[string]string, groupColumns []string) string {
	if len(groupColumns) == 0 {
		return ""
	}
	parts := make([]string, len(groupColumns))
	for i, col := range groupColumns {
		parts[i] = rec[col]
	}
	return strings.Join(parts, "\x1f")
}

func fillGroup(t *Table, indices []int, targetColumn, method string) {
	switch method {
	case "ffill":
		last := ""
		for _, i := range indices {
			v := strings.TrimSpace(t.Records[i][targetColumn])
			if v == "" {
				if last != "" {
					t.Records[i][targetColumn] = last
				}
			} else {
				last = v
			}
		}
	case "bfill":
		next := ""
		for k := len(indices) - 1; k >= 0; k-- {
			i := indices[k]
			v := strings.TrimSpace(t.Records[i][targetColumn])
			if v == "" {
				if next != "" {
					t.Records[i][targetColumn] = next
				}
			} else {
				next = v
			}
		}
	case "zero":
		for _, i := range indices {
			if strings.TrimSpace(t.Records[i][targetColumn]) == "" {
				t.Records[i][targetColumn] = "0"
			}
		}
	case "mean", "median":
		var values []float64
		for _, i := range indices {
			v := strings.TrimSpace(t.Records[i][targetColumn])
			if v == "" {
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				values = append(values, f)
			}
		}
		if len(values) == 0 {
			return
		}
		var fill float64
		if method == "mean" {
			sum := 0.0
			for _, v := range values {
				sum += v
			}
			fill = sum / float64(len(values))
		} else {
			sorted := append([]float64(nil), values...)
			sort.Float64s(sorted)
			mid := len(sorted) / 2
			if len(sorted)%2 == 0 {
				fill = (sorted[mid-1] + sorted[mid]) / 2
			} else {
				fill = sorted[mid]
			}
		}
		filled := strconv.FormatFloat(fill, 'f', -1, 64)
		for _, i := range indices {
			if strings.TrimSpace(t.Records[i][targetColumn]) == "" {
				t.Records[i][targetColumn] = filled
			}
		}
	}
}
