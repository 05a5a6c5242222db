package pipeline

import (
	"github.com/shopspring/decimal"
)

// ComputeSummary derives a PeriodSummary from transactions. Income sums the
// credits, expenses the magnitude of the debits; the largest transaction and
// the average are taken over absolute amounts.
func ComputeSummary(txs []Transaction) PeriodSummary {
	if len(txs) == 0 {
		return PeriodSummary{}
	}

	income := decimal.Zero
	expenses := decimal.Zero
	largest := decimal.Zero
	total := decimal.Zero

	for _, tx := range txs {
		amt := decimal.NewFromFloat(tx.Amount)
		abs := amt.Abs()
		if amt.IsPositive() {
			income = income.Add(amt)
		} else {
			expenses = expenses.Add(abs)
		}
		if abs.GreaterThan(largest) {
			largest = abs
		}
		total = total.Add(abs)
	}

	avg := total.Div(decimal.NewFromInt(int64(len(txs)))).Round(2)

	return PeriodSummary{
		TotalIncome:            income.InexactFloat64(),
		TotalExpenses:          expenses.InexactFloat64(),
		LargestTransaction:     largest.InexactFloat64(),
		AverageTransactionSize: avg.InexactFloat64(),
	}
}

// Totals is the cross-period roll-up used by exports and publishing.
type Totals struct {
	Income       decimal.Decimal
	Expenses     decimal.Decimal
	Net          decimal.Decimal
	Transactions int
	Periods      int
	Degraded     int
}

// ComputeTotals sums the period summaries of all.
func ComputeTotals(all *AllTransactions) Totals {
	t := Totals{Income: decimal.Zero, Expenses: decimal.Zero}
	for _, period := range all.Periods() {
		rec, _ := all.Get(period)
		t.Income = t.Income.Add(decimal.NewFromFloat(rec.Summary.TotalIncome))
		t.Expenses = t.Expenses.Add(decimal.NewFromFloat(rec.Summary.TotalExpenses))
		t.Transactions += len(rec.Transactions)
		t.Periods++
		if rec.Status == PeriodStatusDegraded {
			t.Degraded++
		}
	}
	t.Net = t.Income.Sub(t.Expenses)
	return t
}

// filterWindow drops transactions outside w and reports whether any were
// dropped.
func filterWindow(txs []Transaction, w Window) ([]Transaction, bool) {
	if w.IsZero() {
		return txs, false
	}
	kept := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if w.Contains(tx.Date) {
			kept = append(kept, tx)
		}
	}
	return kept, len(kept) != len(txs)
}
