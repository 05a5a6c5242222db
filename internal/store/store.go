// Package store persists saved analyses keyed by bank name and statement date.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

var (
	// ErrNotFound is returned when no analysis is stored under a name.
	ErrNotFound = errors.New("store: analysis not found")
	// ErrInvalidName is returned for bank names, dates or file names that
	// cannot be mapped to a safe key.
	ErrInvalidName = errors.New("store: invalid analysis name")
)

const fileSuffix = ".json"

// SaveRequest is one analysis to persist.
type SaveRequest struct {
	BankName      string          `json:"bankName"`
	StatementDate string          `json:"statementDate"`
	Analysis      json.RawMessage `json:"analysis"`
}

// Summary is one entry of a listing.
type Summary struct {
	FileName      string `json:"fileName"`
	BankName      string `json:"bankName"`
	StatementDate string `json:"statementDate"`
}

// Saved is a stored analysis with its metadata.
type Saved struct {
	Summary
	Analysis json.RawMessage
}

// MarshalJSON returns the stored document with bankName and statementDate
// merged into it. A non-object document is wrapped under "analysis".
func (s *Saved) MarshalJSON() ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(s.Analysis, &doc); err != nil || doc == nil {
		doc = map[string]json.RawMessage{}
		if len(s.Analysis) > 0 {
			doc["analysis"] = s.Analysis
		}
	}
	bank, _ := json.Marshal(s.BankName)
	date, _ := json.Marshal(s.StatementDate)
	doc["bankName"] = bank
	doc["statementDate"] = date
	return json.Marshal(doc)
}

// Result decodes the stored document as a processing result. Fields the
// document does not carry are left zero.
func (s *Saved) Result() (*pipeline.ProcessingResult, error) {
	res := &pipeline.ProcessingResult{Transactions: pipeline.NewAllTransactions()}
	if err := json.Unmarshal(s.Analysis, res); err != nil {
		return nil, fmt.Errorf("Saved.Result: decode %s: %w", s.FileName, err)
	}
	if res.Transactions == nil {
		res.Transactions = pipeline.NewAllTransactions()
	}
	return res, nil
}

// Store persists analyses.
type Store interface {
	Save(ctx context.Context, req SaveRequest) (string, error)
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, fileName string) (*Saved, error)
}

// FileName builds "<bank>_<date>.json" with slashes in the date replaced by
// dashes. Names that would not round-trip through ParseFileName, or that
// could escape the storage directory, are rejected.
func FileName(bankName, statementDate string) (string, error) {
	bank := strings.TrimSpace(bankName)
	date := strings.ReplaceAll(strings.TrimSpace(statementDate), "/", "-")
	if bank == "" || date == "" {
		return "", fmt.Errorf("%w: bank name and statement date are required", ErrInvalidName)
	}
	if strings.ContainsAny(bank, `_/\`) || strings.Contains(bank, "..") {
		return "", fmt.Errorf("%w: bank name %q must not contain '_', '/', '\\' or '..'", ErrInvalidName, bankName)
	}
	if strings.ContainsAny(date, `_\`) || strings.Contains(date, "..") {
		return "", fmt.Errorf("%w: statement date %q must not contain '_', '\\' or '..'", ErrInvalidName, statementDate)
	}
	return bank + "_" + date + fileSuffix, nil
}

// ParseFileName splits a file name back into bank name and statement date,
// with dashes in the date mapped back to slashes.
func ParseFileName(fileName string) (Summary, error) {
	if strings.ContainsAny(fileName, `/\`) || strings.Contains(fileName, "..") || !strings.HasSuffix(fileName, fileSuffix) {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidName, fileName)
	}
	base := strings.TrimSuffix(fileName, fileSuffix)
	bank, date, ok := strings.Cut(base, "_")
	if !ok || bank == "" || date == "" {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidName, fileName)
	}
	return Summary{
		FileName:      fileName,
		BankName:      bank,
		StatementDate: strings.ReplaceAll(date, "-", "/"),
	}, nil
}

func validateSave(req SaveRequest) (Summary, error) {
	name, err := FileName(req.BankName, req.StatementDate)
	if err != nil {
		return Summary{}, err
	}
	trimmed := strings.TrimSpace(string(req.Analysis))
	if trimmed == "" || trimmed == "null" {
		return Summary{}, fmt.Errorf("%w: analysis is required", pipeline.ErrInput)
	}
	if !json.Valid(req.Analysis) {
		return Summary{}, fmt.Errorf("%w: analysis is not valid JSON", pipeline.ErrInput)
	}
	return ParseFileName(name)
}
