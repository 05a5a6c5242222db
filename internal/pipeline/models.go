package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Transaction is one statement line as extracted by the model.
// Amount is positive for credits and negative for debits.
type Transaction struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// PeriodSummary holds the non-negative totals of one period.
type PeriodSummary struct {
	TotalIncome            float64 `json:"totalIncome"`
	TotalExpenses          float64 `json:"totalExpenses"`
	LargestTransaction     float64 `json:"largestTransaction"`
	AverageTransactionSize float64 `json:"averageTransactionSize"`
}

// PeriodStatus tells a genuine result apart from a fallback.
type PeriodStatus string

const (
	// PeriodStatusOK means the model response was parsed.
	PeriodStatusOK PeriodStatus = "ok"
	// PeriodStatusEmpty means the period had no text; no model call was made.
	PeriodStatusEmpty PeriodStatus = "empty"
	// PeriodStatusDegraded means the response could not be parsed and the
	// zeroed record was substituted.
	PeriodStatusDegraded PeriodStatus = "degraded"
)

// PeriodRecord is the aggregated result of one reporting period.
type PeriodRecord struct {
	Transactions []Transaction `json:"transactions"`
	Summary      PeriodSummary `json:"summary"`
	Status       PeriodStatus  `json:"status,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// EmptyRecord is the zeroed record for a period without text.
func EmptyRecord() PeriodRecord {
	return PeriodRecord{Transactions: []Transaction{}, Status: PeriodStatusEmpty}
}

// DegradedRecord is the zeroed record substituted after a parse failure.
func DegradedRecord(reason string) PeriodRecord {
	return PeriodRecord{Transactions: []Transaction{}, Status: PeriodStatusDegraded, Error: reason}
}

// AllTransactions maps period labels to records and keeps insertion order,
// including through JSON encoding.
type AllTransactions struct {
	order   []string
	records map[string]PeriodRecord
}

// NewAllTransactions creates an empty mapping.
func NewAllTransactions() *AllTransactions {
	return &AllTransactions{records: make(map[string]PeriodRecord)}
}

// Set stores the record for period. A new period is appended to the order;
// an existing one keeps its position.
func (a *AllTransactions) Set(period string, record PeriodRecord) {
	if a.records == nil {
		a.records = make(map[string]PeriodRecord)
	}
	if _, exists := a.records[period]; !exists {
		a.order = append(a.order, period)
	}
	if record.Transactions == nil {
		record.Transactions = []Transaction{}
	}
	a.records[period] = record
}

// Get returns the record for period.
func (a *AllTransactions) Get(period string) (PeriodRecord, bool) {
	if a == nil {
		return PeriodRecord{}, false
	}
	rec, ok := a.records[period]
	return rec, ok
}

// Periods returns the labels in insertion order.
func (a *AllTransactions) Periods() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Len returns the number of periods.
func (a *AllTransactions) Len() int {
	if a == nil {
		return 0
	}
	return len(a.order)
}

// MarshalJSON encodes the mapping as an object in insertion order.
func (a *AllTransactions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, period := range a.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(period)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(a.records[period])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the key order of the document.
func (a *AllTransactions) UnmarshalJSON(data []byte) error {
	a.order = nil
	a.records = make(map[string]PeriodRecord)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("transactions: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("transactions: expected string key, got %v", keyTok)
		}
		var rec PeriodRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("transactions: period %q: %w", key, err)
		}
		a.Set(key, rec)
	}

	_, err = dec.Token()
	return err
}

// Dataset is one series of a chart.
type Dataset struct {
	Label           string      `json:"label"`
	Data            []float64   `json:"data"`
	BackgroundColor interface{} `json:"backgroundColor,omitempty"`
	BorderColor     interface{} `json:"borderColor,omitempty"`
}

// Chart is a validated chart in the flattened shape handed to clients.
type Chart struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Labels   []string               `json:"labels"`
	Datasets []Dataset              `json:"datasets"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// VisualizationData is a non-empty set of charts.
type VisualizationData struct {
	Charts []Chart `json:"charts"`
}

// ProcessingResult is the terminal aggregate of one pipeline invocation.
type ProcessingResult struct {
	RunID             string             `json:"runId,omitempty"`
	ExtractedData     string             `json:"extractedData"`
	Analysis          string             `json:"analysis"`
	Transactions      *AllTransactions   `json:"transactions"`
	VisualizationData *VisualizationData `json:"visualizationData,omitempty"`
}

// PeriodText is the raw statement text of one reporting period.
type PeriodText struct {
	Period string `json:"period"`
	Text   string `json:"text"`
}

// Input is everything a pipeline invocation needs besides the model client.
type Input struct {
	Periods []PeriodText `json:"periods"`
	Window  Window       `json:"window"`
}

// Validate rejects empty inputs, blank or duplicate labels, and bad windows.
func (in Input) Validate() error {
	if len(in.Periods) == 0 {
		return fmt.Errorf("%w: no statements provided", ErrInput)
	}
	seen := make(map[string]bool, len(in.Periods))
	for i, p := range in.Periods {
		if p.Period == "" {
			return fmt.Errorf("%w: statement %d has no period label", ErrInput, i+1)
		}
		if seen[p.Period] {
			return fmt.Errorf("%w: duplicate period label %q", ErrInput, p.Period)
		}
		seen[p.Period] = true
	}
	return in.Window.Validate()
}
