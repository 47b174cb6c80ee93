package ident

import (
	"log/slog"
)

// timestampFields is the fixed priority order consulted when choosing
// the surviving row among duplicates. ISO-8601 timestamps in canonical
// form sort lexicographically, which keeps the comparison deterministic
// even across mixed formats.
var timestampFields = []string{"updated_at", "modified_at", "created_at", "received_at"}

// MergeResult reports the outcome of a deterministic dedupe pass.
type MergeResult struct {
	Rows    []map[string]string
	Dropped int
}

// DedupeRows collapses rows whose idField values share a canonical key.
//
// Exactly one row survives per key: the one with the most recent value
// across the ordered timestamp fields; if no candidate carries any
// timestamp, the row appearing later in read order wins. Non-surviving
// rows are dropped, never combined arithmetically.
//
// Every merge is logged as a reconciliation event. The surviving rows
// keep their original field values (including the display-form id);
// only matching is done on canonical keys.
func DedupeRows(rows []map[string]string, idField string, logger *slog.Logger) MergeResult {
	if logger == nil {
		logger = slog.Default()
	}

	type kept struct {
		row    map[string]string
		bestTS string
		idx    int
	}

	byKey := make(map[string]*kept)
	order := make([]string, 0, len(rows))
	dropped := 0

	for i, r := range rows {
		key := CanonicalKey(r[idField])

		prev, seen := byKey[key]
		if !seen {
			byKey[key] = &kept{row: r, bestTS: latestTimestamp(r), idx: i}
			order = append(order, key)
			continue
		}

		newTS := latestTimestamp(r)
		takeNew := false
		switch {
		case prev.bestTS == "" && newTS == "":
			// No timestamps on either side: later read order wins.
			takeNew = true
		case prev.bestTS == "":
			takeNew = true
		case newTS == "":
			takeNew = false
		default:
			// Equal timestamps fall through to later read order.
			takeNew = newTS >= prev.bestTS
		}

		dropped++
		logger.Info("dedupe: duplicate canonical key merged",
			"field", idField,
			"key", key,
			"kept_index", pick(takeNew, i, prev.idx),
			"dropped_index", pick(takeNew, prev.idx, i),
		)

		if takeNew {
			prev.row = r
			prev.idx = i
			if newTS > prev.bestTS {
				prev.bestTS = newTS
			}
		}
	}

	out := make([]map[string]string, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k].row)
	}
	return MergeResult{Rows: out, Dropped: dropped}
}

func latestTimestamp(r map[string]string) string {
	best := ""
	for _, f := range timestampFields {
		if v := r[f]; v != "" && v > best {
			best = v
		}
	}
	return best
}

func pick(cond bool, a, b int) int {
	if cond {
		return a
	}
	return b
}
