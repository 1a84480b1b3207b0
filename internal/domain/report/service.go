package report

import (
	"context"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
)

const (
	colPatients = "patients"
	colVisits   = "visits"
	colOrders   = "orders"
	colResults  = "results"

	visitLimit        = 200
	directResultLimit = 50
	lnOrderLimit      = 500
	lnResultLimit     = 1000
	harvestLimit      = 20
)

// The ingestion sources that need the widened order/result fallback never
// wrote patientObjectId or createdAt as correlators, so those synonyms are
// excluded from the fallback predicates even though the values harvested
// from the visit include createdAt.
var (
	fallbackPatientFields = []string{"patientId", "patient_id", "patientID"}
	fallbackDateFields    = []string{"orderDate", "visitDate", "date"}
)

// Service orchestrates the fuzzy-join resolution across the four
// collections. It holds no per-request state; all methods are read-only.
type Service struct {
	store Store
	// flatCollection backs the legacy /api/results path, a single
	// pre-joined collection maintained by an older ingestion job.
	flatCollection string
}

func NewService(store Store, flatCollection string) *Service {
	return &Service{store: store, flatCollection: flatCollection}
}

// visitCorrelators are the values harvested from a resolved visit that the
// order and result fallbacks correlate on.
type visitCorrelators struct {
	ids   []any
	nos   []any
	pats  []any
	dates []any
}

func correlatorsOf(v Document) visitCorrelators {
	c := visitCorrelators{
		nos:   fieldValues(v, VisitNumFields),
		pats:  fieldValues(v, PatientRefFields),
		dates: fieldValues(v, DateFields),
	}
	if id := v.StoreID(); id != "" {
		c.ids = []any{id}
	}
	return c
}

// stringify renders a value the way the ingestion sources did when they
// stored references as text. Numbers lose any trailing fraction: 42 not 42.0.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}

// PatientReport resolves the full visit tree for one patient: patient
// profile, visits ordered most recent first, each visit's orders and each
// order's results, plus any results reachable by LN alone.
func (s *Service) PatientReport(ctx context.Context, cid, ln string) (*PatientReport, error) {
	cidCand := Candidates(cid)
	lnCand := Candidates(ln)
	lnConds := Disjunction(LNFields, lnCand)

	// Patient: idCard is the primary key, LN accepted as a secondary match.
	patientOr := Disjunction([]string{"idCard"}, cidCand)
	patientOr = append(patientOr, lnConds...)
	patient, err := s.store.FindOne(ctx, colPatients, patientOr)
	if err != nil {
		return nil, err
	}

	visits, err := s.resolveVisits(ctx, lnConds, patient)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(visits, func(i, j int) bool {
		return derivedTime(visits[i]) > derivedTime(visits[j])
	})

	// Sibling visits are independent once the sort is fixed, so the nested
	// order/result fetches fan out. Index slots keep the output order.
	rich := make([]Document, len(visits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, v := range visits {
		i, v := i, v
		g.Go(func() error {
			enriched, err := s.enrichVisit(gctx, v, lnConds)
			if err != nil {
				return err
			}
			rich[i] = enriched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if rich == nil {
		rich = []Document{}
	}

	direct, err := s.resolveDirectResults(ctx, lnCand)
	if err != nil {
		return nil, err
	}

	return &PatientReport{Patient: patient, Visits: rich, ResultsDirect: direct, LN: ln}, nil
}

// resolveVisits matches by LN first; only when that yields nothing and a
// patient is known does it fall back to the patient reference.
func (s *Service) resolveVisits(ctx context.Context, lnConds []Condition, patient Document) ([]Document, error) {
	visits, err := s.store.Find(ctx, colVisits, lnConds, visitLimit)
	if err != nil {
		return nil, err
	}
	if len(visits) == 0 && patient != nil {
		if pid := patient.StoreID(); pid != "" {
			visits, err = s.store.Find(ctx, colVisits, Disjunction(PatientRefFields, []any{pid}), visitLimit)
			if err != nil {
				return nil, err
			}
		}
	}
	return visits, nil
}

func (s *Service) enrichVisit(ctx context.Context, v Document, lnConds []Condition) (Document, error) {
	cor := correlatorsOf(v)
	orders, err := s.resolveOrders(ctx, cor, lnConds)
	if err != nil {
		return nil, err
	}
	rich := make([]Document, 0, len(orders))
	for _, o := range orders {
		results, err := s.resolveResults(ctx, o, cor, lnConds)
		if err != nil {
			return nil, err
		}
		rich = append(rich, o.With("results", results))
	}
	return v.With("orders", rich), nil
}

// resolveOrders prefers the direct visitId link; the fallback is one widened
// disjunction over every correlator at once, not a priority cascade.
func (s *Service) resolveOrders(ctx context.Context, cor visitCorrelators, lnConds []Condition) ([]Document, error) {
	orders, err := s.store.Find(ctx, colOrders, Disjunction(VisitRefFields, cor.ids), 0)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		var fb []Condition
		fb = append(fb, Disjunction(VisitNumFields, cor.nos)...)
		fb = append(fb, Disjunction(fallbackPatientFields, cor.pats)...)
		fb = append(fb, Disjunction(fallbackDateFields, cor.dates)...)
		fb = append(fb, lnConds...)
		if len(fb) > 0 {
			orders, err = s.store.Find(ctx, colOrders, fb, 0)
			if err != nil {
				return nil, err
			}
		}
	}
	return orders, nil
}

// orderIDCandidates collects every encoding a result might use to reference
// the order: the ingested orderId as stored, its string form, and the store
// row id.
func orderIDCandidates(o Document) []any {
	var out []any
	seen := make(map[any]bool)
	add := func(v any) {
		if v != nil && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if v, ok := o["orderId"]; ok && truthy(v) {
		add(v)
		if str := stringify(v); str != "" {
			add(str)
		}
	}
	if id := o.StoreID(); id != "" {
		add(id)
	}
	return out
}

func (s *Service) resolveResults(ctx context.Context, o Document, cor visitCorrelators, lnConds []Condition) ([]Document, error) {
	results, err := s.store.Find(ctx, colResults, Disjunction(OrderRefFields, orderIDCandidates(o)), 0)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		var fb []Condition
		fb = append(fb, Disjunction(VisitRefFields, cor.ids)...)
		fb = append(fb, Disjunction(VisitNumFields, cor.nos)...)
		fb = append(fb, Disjunction(fallbackPatientFields, cor.pats)...)
		fb = append(fb, Disjunction(fallbackDateFields, cor.dates)...)
		fb = append(fb, lnConds...)
		if len(fb) > 0 {
			results, err = s.store.Find(ctx, colResults, fb, 0)
			if err != nil {
				return nil, err
			}
		}
	}
	if results == nil {
		results = []Document{}
	}
	return results, nil
}

// resolveDirectResults surfaces results that carry the LN themselves (or
// under a nested patient object) but are unreachable through the order
// graph. They are reported separately, never merged into the visit tree.
func (s *Service) resolveDirectResults(ctx context.Context, lnCand []any) ([]Document, error) {
	var conds []Condition
	for _, lf := range LNFields {
		for _, v := range lnCand {
			conds = append(conds, Eq(lf, v), Eq("patient."+lf, v))
		}
	}
	direct, err := s.store.Find(ctx, colResults, conds, directResultLimit)
	if err != nil {
		return nil, err
	}
	if direct == nil {
		direct = []Document{}
	}
	return direct, nil
}

// LNReport aggregates everything correlated to one LN as flat lists with
// counts, widening orders by visit correlators and results by order and
// visit correlators.
func (s *Service) LNReport(ctx context.Context, ln string) (*LNReport, error) {
	lnCand := Candidates(ln)
	lnConds := Disjunction(LNFields, lnCand)

	var resultsOr []Condition
	for _, lf := range LNFields {
		for _, v := range lnCand {
			resultsOr = append(resultsOr, Eq(lf, v), Eq("patient."+lf, v))
		}
	}

	visits, err := s.store.Find(ctx, colVisits, lnConds, visitLimit)
	if err != nil {
		return nil, err
	}
	if len(visits) == 0 {
		patient, err := s.store.FindOne(ctx, colPatients, lnConds)
		if err != nil {
			return nil, err
		}
		if patient != nil {
			if pid := patient.StoreID(); pid != "" {
				visits, err = s.store.Find(ctx, colVisits, Disjunction(PatientRefFields, []any{pid}), visitLimit)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	var visitIDs, visitNos []any
	for _, v := range visits {
		if id := v.StoreID(); id != "" {
			visitIDs = append(visitIDs, id)
		}
		visitNos = append(visitNos, fieldValues(v, VisitNumFields)...)
	}

	ordersOr := append([]Condition{}, lnConds...)
	ordersOr = append(ordersOr, Disjunction(VisitRefFields, visitIDs)...)
	ordersOr = append(ordersOr, Disjunction(VisitNumFields, visitNos)...)
	orders, err := s.store.Find(ctx, colOrders, ordersOr, lnOrderLimit)
	if err != nil {
		return nil, err
	}

	var orderIDs []any
	for _, o := range orders {
		if v, ok := o["orderId"]; ok && truthy(v) {
			orderIDs = append(orderIDs, v)
			if str := stringify(v); str != "" {
				orderIDs = append(orderIDs, str)
			}
		}
		if id := o.StoreID(); id != "" {
			orderIDs = append(orderIDs, id)
		}
	}

	resultsOr = append(resultsOr, Disjunction(OrderRefFields, orderIDs)...)
	resultsOr = append(resultsOr, Disjunction(VisitRefFields, visitIDs)...)
	resultsOr = append(resultsOr, Disjunction(VisitNumFields, visitNos)...)
	results, err := s.store.Find(ctx, colResults, resultsOr, lnResultLimit)
	if err != nil {
		return nil, err
	}

	if visits == nil {
		visits = []Document{}
	}
	if orders == nil {
		orders = []Document{}
	}
	if results == nil {
		results = []Document{}
	}
	return &LNReport{
		LN:           ln,
		VisitsCount:  len(visits),
		OrdersCount:  len(orders),
		ResultsCount: len(results),
		Visits:       visits,
		Orders:       orders,
		Results:      results,
	}, nil
}

// pairedConditions builds the (idCard, ln) conjunctive disjuncts the flat
// endpoints use: each disjunct constrains both fields in one encoding
// combination.
func pairedConditions(cid, ln string) []Condition {
	cidDigits := nonDigits.ReplaceAllString(cid, "")
	lnDigits := nonDigits.ReplaceAllString(ln, "")
	conds := []Condition{
		{"idCard": cidDigits, "ln": lnDigits},
		{"idCard": cid, "ln": ln},
	}
	cidNum, cidOK := numeric(cidDigits)
	lnNum, lnOK := numeric(lnDigits)
	if cidOK {
		conds = append(conds, Condition{"idCard": cidNum, "ln": ln})
	}
	if lnOK {
		conds = append(conds, Condition{"idCard": cid, "ln": lnNum})
	}
	if cidOK && lnOK {
		conds = append(conds, Condition{"idCard": cidNum, "ln": lnNum})
	}
	return conds
}

func numeric(digits string) (int64, bool) {
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	return n, err == nil
}

// Results serves the legacy flat-collection path.
func (s *Service) Results(ctx context.Context, cid, ln string) ([]Document, error) {
	items, err := s.store.Find(ctx, s.flatCollection, pairedConditions(cid, ln), 0)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Document{}
	}
	return items, nil
}

// ResultsByOrder matches the flat collection by orderId in both encodings.
func (s *Service) ResultsByOrder(ctx context.Context, orderID string) ([]Document, error) {
	conds := []Condition{Eq("orderId", orderID)}
	if n, ok := numeric(nonDigits.ReplaceAllString(orderID, "")); ok {
		conds = append(conds, Eq("orderId", n))
	}
	items, err := s.store.Find(ctx, s.flatCollection, conds, 0)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Document{}
	}
	return items, nil
}

// HealthReport is the best-effort scan: it harvests order ids from every
// collection it can and chases them into results, falling back to direct
// idCard/ln matching. Diagnostic only; the authoritative path is
// PatientReport.
func (s *Service) HealthReport(ctx context.Context, cid, ln string) (*HealthReport, error) {
	cols, err := s.store.Collections(ctx)
	if err != nil {
		return nil, err
	}
	has := make(map[string]bool, len(cols))
	for _, c := range cols {
		has[c] = true
	}

	pairs := pairedConditions(cid, ln)

	var patient Document
	if has[colPatients] {
		patient, err = s.store.FindOne(ctx, colPatients, pairs)
		if err != nil {
			return nil, err
		}
	}

	var orderIDs []any
	if patient != nil {
		if has[colOrders] {
			var orderOr []Condition
			if pid := patient.StoreID(); pid != "" {
				orderOr = append(orderOr, Eq("patientId", pid))
			}
			if v, ok := patient["idCard"]; ok && truthy(v) {
				orderOr = append(orderOr, Eq("idCard", v))
			}
			if v, ok := patient["ln"]; ok && truthy(v) {
				orderOr = append(orderOr, Eq("ln", v))
			}
			orders, err := s.store.Find(ctx, colOrders, orderOr, 0)
			if err != nil {
				return nil, err
			}
			for _, o := range orders {
				if v, ok := o["orderId"]; ok && truthy(v) {
					orderIDs = append(orderIDs, v)
				}
				if id := o.StoreID(); id != "" {
					orderIDs = append(orderIDs, id)
				}
			}
		}
		for _, c := range cols {
			if c == colResults {
				continue
			}
			docs, err := s.store.Find(ctx, c, pairs, harvestLimit)
			if err != nil {
				return nil, err
			}
			for _, d := range docs {
				if v, ok := d["orderId"]; ok && truthy(v) {
					orderIDs = append(orderIDs, v)
				}
				if str, ok := d["order_id"].(string); ok {
					orderIDs = append(orderIDs, str)
				}
				if str, ok := d["orderID"].(string); ok {
					orderIDs = append(orderIDs, str)
				}
			}
		}
	}

	var items []Document
	if has[colResults] {
		if len(orderIDs) > 0 {
			items, err = s.store.Find(ctx, colResults, Disjunction([]string{"orderId"}, orderIDs), 0)
			if err != nil {
				return nil, err
			}
		}
		if len(items) == 0 {
			cidDigits := nonDigits.ReplaceAllString(cid, "")
			lnDigits := nonDigits.ReplaceAllString(ln, "")
			rOr := append([]Condition{}, pairs...)
			rOr = append(rOr,
				Condition{"patient.idCard": cid, "patient.ln": ln},
				Condition{"patient.idCard": cidDigits, "patient.ln": lnDigits},
			)
			items, err = s.store.Find(ctx, colResults, rOr, 0)
			if err != nil {
				return nil, err
			}
		}
	}

	if items == nil {
		items = []Document{}
	}
	if orderIDs == nil {
		orderIDs = []any{}
	}
	return &HealthReport{Items: items, Patient: patient, OrderIDs: orderIDs}, nil
}

// Probe reports which collections contain a document matching the paired
// idCard/ln disjuncts. Isolated from the resolution path; for debugging
// ingestion problems.
func (s *Service) Probe(ctx context.Context, cid, ln string) (*ProbeReport, error) {
	cols, err := s.store.Collections(ctx)
	if err != nil {
		return nil, err
	}
	pairs := pairedConditions(cid, ln)
	matches := []ProbeMatch{}
	for _, c := range cols {
		doc, err := s.store.FindOne(ctx, c, pairs)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			matches = append(matches, ProbeMatch{Collection: c, Matched: 1})
		}
	}
	return &ProbeReport{CollectionsScanned: len(cols), Matches: matches}, nil
}
