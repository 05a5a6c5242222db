// Package notionsync publishes saved analyses as pages of a Notion database.
package notionsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/store"
)

// ErrNotConfigured is returned when no database id is set.
var ErrNotConfigured = errors.New("notionsync: notion database is not configured")

// Property names of the analyses database.
const (
	PropBank          = "Bank"
	PropStatementDate = "Statement Date"
	PropFile          = "File"
	PropTotalIncome   = "Total Income"
	PropTotalExpenses = "Total Expenses"
	PropNet           = "Net"
	PropPeriods       = "Periods"
	PropDegraded      = "Unreadable Periods"
	PropPublishedAt   = "Published At"
)

// Published describes the page an analysis was written to.
type Published struct {
	PageID  string `json:"pageId"`
	URL     string `json:"url,omitempty"`
	Created bool   `json:"created"`
}

// Publisher writes one page per saved analysis, keyed by its file name.
// Publishing the same analysis again updates the existing page.
type Publisher struct {
	client     NotionService
	databaseID string
	log        zerolog.Logger
	now        func() time.Time
}

// NewPublisher creates a Publisher for databaseID.
func NewPublisher(client NotionService, databaseID string, log zerolog.Logger) *Publisher {
	return &Publisher{
		client:     client,
		databaseID: databaseID,
		log:        log,
		now:        time.Now,
	}
}

// Publish creates or updates the page for saved.
func (p *Publisher) Publish(ctx context.Context, saved *store.Saved) (*Published, error) {
	if p == nil || p.client == nil || p.databaseID == "" {
		return nil, ErrNotConfigured
	}
	res, err := saved.Result()
	if err != nil {
		return nil, fmt.Errorf("Publish: %w", err)
	}
	props := AnalysisToNotionProperties(saved.Summary, pipeline.ComputeTotals(res.Transactions), p.now())

	existing, err := p.findPage(ctx, saved.FileName)
	if err != nil {
		return nil, fmt.Errorf("Publish: %w", err)
	}

	if existing != "" {
		page, err := p.client.UpdatePage(ctx, existing, props)
		if err != nil {
			return nil, fmt.Errorf("Publish: %w", err)
		}
		p.log.Info().
			Str("file", saved.FileName).
			Str("page_id", existing).
			Msg("Updated Notion page")
		return &Published{PageID: existing, URL: page.URL}, nil
	}

	page, err := p.client.CreatePage(ctx, p.databaseID, props)
	if err != nil {
		return nil, fmt.Errorf("Publish: %w", err)
	}
	p.log.Info().
		Str("file", saved.FileName).
		Str("page_id", string(page.ID)).
		Msg("Created Notion page")
	return &Published{PageID: string(page.ID), URL: page.URL, Created: true}, nil
}

// findPage returns the id of the page whose File property equals fileName.
func (p *Publisher) findPage(ctx context.Context, fileName string) (string, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropFile,
			RichText: &notionapi.TextFilterCondition{Equals: fileName},
		},
		PageSize: 1,
	}
	resp, err := p.client.QueryDatabase(ctx, p.databaseID, req)
	if err != nil {
		return "", fmt.Errorf("findPage: %w", err)
	}
	for _, page := range resp.Results {
		if extractFile(page) == fileName {
			return string(page.ID), nil
		}
	}
	return "", nil
}

// AnalysisToNotionProperties maps an analysis summary and its totals to page
// properties.
func AnalysisToNotionProperties(sum store.Summary, totals pipeline.Totals, publishedAt time.Time) notionapi.Properties {
	income, _ := totals.Income.Round(2).Float64()
	expenses, _ := totals.Expenses.Round(2).Float64()
	net, _ := totals.Net.Round(2).Float64()
	published := notionapi.Date(publishedAt.UTC())

	return notionapi.Properties{
		PropBank: notionapi.TitleProperty{
			Title: []notionapi.RichText{richText(sum.BankName)},
		},
		PropStatementDate: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(sum.StatementDate)},
		},
		PropFile: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(sum.FileName)},
		},
		PropTotalIncome:   notionapi.NumberProperty{Number: income},
		PropTotalExpenses: notionapi.NumberProperty{Number: expenses},
		PropNet:           notionapi.NumberProperty{Number: net},
		PropPeriods:       notionapi.NumberProperty{Number: float64(totals.Periods)},
		PropDegraded:      notionapi.NumberProperty{Number: float64(totals.Degraded)},
		PropPublishedAt: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &published},
		},
	}
}

func richText(s string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}
}

// extractFile reads the File property of a queried page.
func extractFile(page notionapi.Page) string {
	if prop, ok := page.Properties[PropFile]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
			if rt.RichText[0].PlainText != "" {
				return rt.RichText[0].PlainText
			}
			if rt.RichText[0].Text != nil {
				return rt.RichText[0].Text.Content
			}
		}
	}
	return ""
}
