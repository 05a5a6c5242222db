package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// transformPeriodRecord converts a decoded aggregation response into a
// PeriodRecord. A missing summary is computed from the transactions.
// Unreadable field values are coerced to zero values and reported as
// warnings; only a wrong transactions or summary shape is an error.
func transformPeriodRecord(obj map[string]interface{}) (PeriodRecord, []string, error) {
	rec := PeriodRecord{Transactions: []Transaction{}, Status: PeriodStatusOK}
	var warnings []string

	if txAny, ok := obj["transactions"]; ok && txAny != nil {
		txSlice, ok := txAny.([]interface{})
		if !ok {
			return PeriodRecord{}, nil, fmt.Errorf("transformPeriodRecord: 'transactions' is %s, want array", jsonKind(txAny))
		}
		for i, item := range txSlice {
			tx, txWarnings, err := transformTransaction(item)
			if err != nil {
				return PeriodRecord{}, nil, fmt.Errorf("transaction %d: %w", i, err)
			}
			for _, w := range txWarnings {
				warnings = append(warnings, fmt.Sprintf("transaction %d: %s", i, w))
			}
			rec.Transactions = append(rec.Transactions, tx)
		}
	}

	sumAny, ok := obj["summary"]
	if !ok || sumAny == nil {
		rec.Summary = ComputeSummary(rec.Transactions)
		return rec, warnings, nil
	}
	sumObj, ok := sumAny.(map[string]interface{})
	if !ok {
		return PeriodRecord{}, nil, fmt.Errorf("transformPeriodRecord: 'summary' is %s, want object", jsonKind(sumAny))
	}
	summary, sumWarnings := transformSummary(sumObj)
	for _, w := range sumWarnings {
		warnings = append(warnings, "summary: "+w)
	}
	rec.Summary = summary
	return rec, warnings, nil
}

func transformTransaction(item interface{}) (Transaction, []string, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return Transaction{}, nil, fmt.Errorf("element is %s, want object", jsonKind(item))
	}
	var warnings []string
	date, err := getStringField(obj, "date", false)
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	desc, err := getStringField(obj, "description", false)
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	// An unreadable amount counts as 0, like Number() yielding no value.
	amount, err := getAmountField(obj, "amount", true)
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	return Transaction{
		Date:        strings.TrimSpace(date),
		Description: strings.TrimSpace(desc),
		Amount:      amount,
	}, warnings, nil
}

func transformSummary(obj map[string]interface{}) (PeriodSummary, []string) {
	var (
		s        PeriodSummary
		warnings []string
	)
	fields := []struct {
		key string
		dst *float64
	}{
		{"totalIncome", &s.TotalIncome},
		{"totalExpenses", &s.TotalExpenses},
		{"largestTransaction", &s.LargestTransaction},
		{"averageTransactionSize", &s.AverageTransactionSize},
	}
	for _, f := range fields {
		v, err := getAmountField(obj, f.key, false)
		if err != nil {
			warnings = append(warnings, err.Error())
		}
		// Summary figures are magnitudes; some responses sign expenses.
		*f.dst = math.Abs(v)
	}
	return s, warnings
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("field %q has type %s, want string", key, jsonKind(v))
	}
}

func getAmountField(m map[string]interface{}, key string, required bool) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return 0, fmt.Errorf("missing required field %q", key)
		}
		return 0, nil
	}
	f, err := parseAmount(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return f, nil
}

// parseAmount accepts a JSON number or a numeric string that may carry a
// currency symbol, thousands separators or accounting parentheses.
func parseAmount(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		s := strings.TrimSpace(val)
		negative := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			negative = true
			s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		}
		s = strings.NewReplacer("$", "", "£", "", "€", "", ",", "", " ", "").Replace(s)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%q is not a number", val)
		}
		if negative {
			f = -f
		}
		return f, nil
	default:
		return 0, fmt.Errorf("has type %s, want number", jsonKind(v))
	}
}
