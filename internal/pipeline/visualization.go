package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/rs/zerolog"
)

// AllowedChartTypes lists the chart types a response may use.
var AllowedChartTypes = map[string]bool{
	"bar":      true,
	"line":     true,
	"pie":      true,
	"doughnut": true,
}

// Visualizer asks the model for chart configurations and validates them.
type Visualizer struct {
	client llm.Client
	logger zerolog.Logger
}

// NewVisualizer creates a Visualizer.
func NewVisualizer(client llm.Client, logger zerolog.Logger) *Visualizer {
	return &Visualizer{client: client, logger: logger}
}

// Generate builds charts for the aggregated transactions. Every failure,
// including a model failure, wraps ErrVisualization.
func (v *Visualizer) Generate(ctx context.Context, all *AllTransactions) (*VisualizationData, error) {
	prompt, err := visualizeUserPrompt(all)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVisualization, err)
	}
	return v.generate(ctx, prompt)
}

// GenerateFromJSON builds charts for an arbitrary transactions document, as
// posted by clients that already hold extracted data.
func (v *Visualizer) GenerateFromJSON(ctx context.Context, transactions json.RawMessage) (*VisualizationData, error) {
	if len(strings.TrimSpace(string(transactions))) == 0 {
		return nil, fmt.Errorf("%w: transactions are required", ErrInput)
	}
	var b strings.Builder
	b.WriteString("Generate visualization data for these transactions. Ensure the output is a valid JSON object:\n\n")
	b.Write(transactions)
	return v.generate(ctx, b.String())
}

func (v *Visualizer) generate(ctx context.Context, prompt string) (*VisualizationData, error) {
	raw, err := v.client.Complete(ctx, llm.Request{
		Stage:           StageVisualize,
		System:          visualizeSystemPrompt,
		User:            prompt,
		MaxOutputTokens: visualizeMaxTokens,
		Temperature:     llm.Temperature(structuredTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVisualization, err)
	}

	charts, err := ValidateCharts(raw)
	if err != nil {
		v.logger.Warn().
			Err(err).
			Str("raw_response", logger.Truncate(raw, rawLogLimit)).
			Msg("Visualization response failed validation")
		return nil, err
	}

	types := make([]string, len(charts))
	for i, c := range charts {
		types[i] = c.Type
	}
	v.logger.Debug().Int("charts", len(charts)).Strs("types", types).Msg("Visualization data generated")

	return &VisualizationData{Charts: charts}, nil
}

// ValidateCharts parses a chart response and returns the charts in their
// flattened shape. Each structural problem is reported as its own error,
// wrapping ErrVisualization.
func ValidateCharts(raw string) ([]Chart, error) {
	root, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVisualization, err)
	}

	chartsAny, ok := root["charts"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing or invalid \"charts\" array", ErrVisualization)
	}
	if len(chartsAny) == 0 {
		return nil, fmt.Errorf("%w: charts array is empty", ErrVisualization)
	}

	charts := make([]Chart, 0, len(chartsAny))
	for i, item := range chartsAny {
		chart, err := validateChart(i, item)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVisualization, err)
		}
		charts = append(charts, chart)
	}
	return charts, nil
}

func validateChart(index int, item interface{}) (Chart, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return Chart{}, fmt.Errorf("chart at index %d is %s, want object", index, jsonKind(item))
	}
	if !truthy(obj["type"]) || !truthy(obj["data"]) || !truthy(obj["options"]) {
		return Chart{}, fmt.Errorf("invalid chart structure at index %d: missing required properties", index)
	}

	chartType, _ := obj["type"].(string)
	if !AllowedChartTypes[chartType] {
		return Chart{}, fmt.Errorf("invalid chart type at index %d: %v", index, obj["type"])
	}

	data, ok := obj["data"].(map[string]interface{})
	if !ok {
		return Chart{}, fmt.Errorf("invalid chart data at index %d: %s, want object", index, jsonKind(obj["data"]))
	}
	datasetsAny, ok := data["datasets"].([]interface{})
	if !ok || len(datasetsAny) == 0 {
		return Chart{}, fmt.Errorf("invalid or empty datasets at index %d", index)
	}

	datasets := make([]Dataset, 0, len(datasetsAny))
	for di, dsAny := range datasetsAny {
		ds, err := validateDataset(index, di, dsAny)
		if err != nil {
			return Chart{}, err
		}
		datasets = append(datasets, ds)
	}

	options, _ := obj["options"].(map[string]interface{})

	return Chart{
		Type:     chartType,
		Title:    chartTitle(obj, options),
		Labels:   chartLabels(data["labels"]),
		Datasets: datasets,
		Options:  options,
	}, nil
}

func validateDataset(chartIndex, datasetIndex int, item interface{}) (Dataset, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return Dataset{}, fmt.Errorf("dataset %d of chart %d is %s, want object", datasetIndex, chartIndex, jsonKind(item))
	}
	values, ok := obj["data"].([]interface{})
	if !ok {
		return Dataset{}, fmt.Errorf("dataset %d of chart %d has no data array", datasetIndex, chartIndex)
	}

	numbers := make([]float64, len(values))
	for vi, value := range values {
		n, err := coerceNumber(value)
		if err != nil {
			return Dataset{}, fmt.Errorf("invalid numeric value in dataset %d of chart %d at position %d: %w",
				datasetIndex, chartIndex, vi, err)
		}
		numbers[vi] = n
	}

	label, _ := obj["label"].(string)
	return Dataset{
		Label:           label,
		Data:            numbers,
		BackgroundColor: obj["backgroundColor"],
		BorderColor:     obj["borderColor"],
	}, nil
}

// coerceNumber converts a JSON value the way a numeric cast in the charting
// client would: blank strings and null are zero, booleans are 0 or 1, and
// anything that does not yield a finite number is rejected.
func coerceNumber(v interface{}) (float64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return val, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", val)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%q is not finite", val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s is not a number", jsonKind(v))
	}
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0 && !math.IsNaN(val)
	default:
		return true
	}
}

func chartTitle(obj, options map[string]interface{}) string {
	if title, ok := obj["title"].(string); ok && title != "" {
		return title
	}
	plugins, _ := options["plugins"].(map[string]interface{})
	titleObj, _ := plugins["title"].(map[string]interface{})
	if text, ok := titleObj["text"].(string); ok {
		return text
	}
	return ""
}

func chartLabels(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	labels := make([]string, len(items))
	for i, item := range items {
		switch val := item.(type) {
		case string:
			labels[i] = val
		case float64:
			labels[i] = strconv.FormatFloat(val, 'f', -1, 64)
		case nil:
			labels[i] = ""
		default:
			labels[i] = fmt.Sprint(val)
		}
	}
	return labels
}
