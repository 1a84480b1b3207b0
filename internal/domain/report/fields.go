package report

import (
	"regexp"
	"strconv"
	"strings"
)

// Physical field names historically used for each logical field. Data in the
// collections comes from several ingestion sources that never agreed on a
// schema, so queries must try every synonym. These lists are load-bearing:
// changing them changes which records are found.
var (
	LNFields         = []string{"ln", "LN", "lnNo", "ln_number", "lnNumber"}
	VisitRefFields   = []string{"visitId", "visit_id"}
	VisitNumFields   = []string{"visitNumber", "visit_no", "vn"}
	PatientRefFields = []string{"patientId", "patient_id", "patientID", "patientObjectId"}
	OrderRefFields   = []string{"orderId", "order_id", "orderID"}
	DateFields       = []string{"orderDate", "visitDate", "date", "createdAt"}
)

var nonDigits = regexp.MustCompile(`\D`)

// Candidates expands a raw identity token (ID card or LN) into every
// representation that may appear in stored documents: the digits-only form,
// the trimmed original, and the numeric value when the digits-only form
// parses. Empty forms are dropped and duplicates collapsed, so an input that
// is already digits-only yields two candidates, not three.
func Candidates(raw string) []any {
	trimmed := strings.TrimSpace(raw)
	digits := nonDigits.ReplaceAllString(trimmed, "")

	var out []any
	seen := make(map[any]bool)
	add := func(v any) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if digits != "" {
		add(digits)
	}
	if trimmed != "" {
		add(trimmed)
	}
	if digits != "" {
		if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
			add(n)
		}
	}
	return out
}

// Condition is one disjunct of a fuzzy-match query: a conjunction of
// field equality constraints. Keys may be dotted paths into nested
// documents ("patient.ln"). Most conditions carry a single key; the
// flat-collection endpoints pair idCard with ln in one disjunct.
type Condition map[string]any

// Eq returns a single-field equality condition.
func Eq(field string, value any) Condition {
	return Condition{field: value}
}

// Disjunction builds the synonym-times-candidate cross-product: one equality
// condition per (field, candidate) pair. Redundant disjuncts are harmless;
// missing ones lose records.
func Disjunction(fields []string, candidates []any) []Condition {
	conds := make([]Condition, 0, len(fields)*len(candidates))
	for _, f := range fields {
		for _, v := range candidates {
			conds = append(conds, Eq(f, v))
		}
	}
	return conds
}
