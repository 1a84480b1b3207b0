package report

import (
	"time"
)

// Document is a schema-less record loaded from one of the collections.
// The store row identifier is injected under "_id" as a string when the
// document is read, mirroring how the ingested data references rows.
type Document map[string]any

// StoreID returns the store-assigned identifier of the document, or "".
func (d Document) StoreID() string {
	if s, ok := d["_id"].(string); ok {
		return s
	}
	return ""
}

// With returns a shallow copy of the document with one extra key set.
// Used to attach resolved child lists without mutating fetched records.
func (d Document) With(key string, value any) Document {
	out := make(Document, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[key] = value
	return out
}

// truthy reports whether a field value counts as present for correlation
// purposes. Ingested records use "", null and 0 interchangeably for
// "no value", so all of those are treated as absent.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case int64:
		return x != 0
	case int:
		return x != 0
	default:
		return true
	}
}

// fieldValues collects the truthy values of the named fields, in field order.
func fieldValues(d Document, fields []string) []any {
	var out []any
	for _, f := range fields {
		if v, ok := d[f]; ok && truthy(v) {
			out = append(out, v)
		}
	}
	return out
}

// visitTimeFields is the priority order for deriving a visit's timestamp.
var visitTimeFields = []string{"visitDate", "date", "visitedAt", "createdAt"}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// derivedTime extracts the sort timestamp of a visit in epoch milliseconds.
// The first truthy field in priority order wins; an absent or unparsable
// value maps to epoch zero so undated visits sort last.
func derivedTime(d Document) int64 {
	for _, f := range visitTimeFields {
		v, ok := d[f]
		if !ok || !truthy(v) {
			continue
		}
		switch x := v.(type) {
		case string:
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, x); err == nil {
					return t.UnixMilli()
				}
			}
			return 0
		case float64:
			return int64(x)
		case int64:
			return x
		default:
			return 0
		}
	}
	return 0
}

// PatientReport is the full visit tree for one patient, the payload of
// GET /api/patient-report. Visits carry an "orders" list, orders a
// "results" list. ResultsDirect holds results reachable by LN but not
// through the order graph.
type PatientReport struct {
	Patient       Document   `json:"patient"`
	Visits        []Document `json:"visits"`
	ResultsDirect []Document `json:"resultsDirect"`
	LN            string     `json:"ln"`
}

// LNReport aggregates everything correlated to one LN as flat lists.
type LNReport struct {
	LN           string     `json:"ln"`
	VisitsCount  int        `json:"visits_count"`
	OrdersCount  int        `json:"orders_count"`
	ResultsCount int        `json:"results_count"`
	Visits       []Document `json:"visits"`
	Orders       []Document `json:"orders"`
	Results      []Document `json:"results"`
}

// HealthReport is the best-effort cross-collection scan payload.
type HealthReport struct {
	Items    []Document `json:"items"`
	Patient  Document   `json:"patient"`
	OrderIDs []any      `json:"orderIds"`
}

// ProbeMatch records that a collection holds at least one matching document.
type ProbeMatch struct {
	Collection string `json:"collection"`
	Matched    int    `json:"matched"`
}

// ProbeReport is the diagnostic payload of GET /api/_probe.
type ProbeReport struct {
	CollectionsScanned int          `json:"collections_scanned"`
	Matches            []ProbeMatch `json:"matches"`
}
