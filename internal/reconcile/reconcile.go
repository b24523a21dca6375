package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// MasterRow is one line of the master load manifest: a product name and the
// quantity loaded into the machine.
type MasterRow struct {
	Name string
	Qty  int
}

// SalesRow is one line of the sales transaction log. Each row is one unit
// sold; any quantity column in the export is ignored.
type SalesRow struct {
	Name string
}

// Row is the per-product outcome of a reconciliation.
type Row struct {
	Name         string `json:"name"`
	MasterQty    int    `json:"masterQty"`
	SalesQty     int    `json:"salesQty"`
	RemainingQty int    `json:"remainingQty"`
}

// Result is the full outcome handed to refill confirmation or shown to the
// operator for review.
type Result struct {
	Rows         []Row `json:"results"`
	RemainingSum int   `json:"remainingSum"`
	Percent      int   `json:"percent"`
	// Products that appear in the sales log but not in the master manifest.
	// Reconciliation is master-driven, so these never become rows; they are
	// surfaced by name for operator review.
	UnknownProducts []string `json:"unknownProducts,omitempty"`
}

// readAll parses a headered CSV and returns records as header->value maps.
// Header matching is case-insensitive and ragged rows are tolerated, since
// the uploads come from assorted vending-telemetry exports.
func readAll(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []map[string]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, v := range record {
			if i >= len(header) {
				break
			}
			row[header[i]] = strings.TrimSpace(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseMaster reads the master load manifest. The name column is "name"; the
// quantity column may be "qty" or "quantity". Rows without a name are
// skipped, and a missing or non-numeric quantity counts as 0.
func ParseMaster(r io.Reader) ([]MasterRow, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}

	var rows []MasterRow
	for _, rec := range records {
		name := rec["name"]
		if name == "" {
			continue
		}
		raw := rec["qty"]
		if raw == "" {
			raw = rec["quantity"]
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			qty = 0
		}
		rows = append(rows, MasterRow{Name: name, Qty: qty})
	}
	return rows, nil
}

// ParseSales reads the sales transaction log. Only the name column matters;
// one row is one unit sold.
func ParseSales(r io.Reader) ([]SalesRow, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}

	var rows []SalesRow
	for _, rec := range records {
		if name := rec["name"]; name != "" {
			rows = append(rows, SalesRow{Name: name})
		}
	}
	return rows, nil
}

// MasterTotals folds master rows by product name, summing quantities.
func MasterTotals(rows []MasterRow) map[string]int {
	totals := make(map[string]int, len(rows))
	for _, r := range rows {
		totals[r.Name] += r.Qty
	}
	return totals
}

// SalesTotals folds sales rows by product name, counting occurrences.
func SalesTotals(rows []SalesRow) map[string]int {
	totals := make(map[string]int, len(rows))
	for _, r := range rows {
		totals[r.Name]++
	}
	return totals
}

// Reconcile computes per-product remaining stock from a master manifest and a
// sales log, against the machine's total capacity. Results are master-driven:
// every master product yields a row, while sold products unknown to the
// master only appear in UnknownProducts.
func Reconcile(master []MasterRow, sales []SalesRow, capacity int) Result {
	stock := MasterTotals(master)
	sold := SalesTotals(sales)

	rows := make([]Row, 0, len(stock))
	sum := 0
	for name, qty := range stock {
		remaining := qty - sold[name]
		if remaining < 0 {
			remaining = 0
		}
		rows = append(rows, Row{
			Name:         name,
			MasterQty:    qty,
			SalesQty:     sold[name],
			RemainingQty: remaining,
		})
		sum += remaining
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	var unknown []string
	for name := range sold {
		if _, ok := stock[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)

	return Result{
		Rows:            rows,
		RemainingSum:    sum,
		Percent:         ComputePercent(float64(sum), capacity),
		UnknownProducts: unknown,
	}
}

// ComputePercent converts a remaining unit count into a stock percentage of
// the machine's capacity, rounded half away from zero and clamped at 100
// (an over-stocked machine reads full, not >100%). The sum may be fractional
// when it comes from an edited review table. A missing or non-positive
// capacity yields 0.
func ComputePercent(remainingSum float64, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	percent := int(math.Round(remainingSum / float64(capacity) * 100))
	if percent > 100 {
		return 100
	}
	return percent
}
