package pipeline

import (
	"encoding/json"
	"fmt"
)

const extractSystemPrompt = "You are a financial data extractor. Extract all relevant financial information from the given bank statement chunk, including transaction details, dates, amounts, and any other important data. Format the output as a structured text, preserving the original layout where possible."

const aggregateSystemPrompt = "You are a financial data extractor. Extract a list of transactions from the given financial data. Each transaction should include a date, description, and amount. Also calculate the total income, total expenses, largest transaction, and average transaction size for this month. Format the output as a valid JSON object with 'transactions' array and 'summary' object containing the calculated values. Do not include any markdown formatting or code blocks in your response."

const analyzeSystemPrompt = `You are an expert financial analyst with experience in underwriting. Analyze the given financial data from multiple months and provide a comprehensive, well-structured summary. Your analysis should be detailed, insightful, and presented in a clear, easy-to-read format. Use markdown formatting to enhance readability and structure.

Format your response as follows:

# Executive Summary

Provide a brief overview of the financial health and key findings.

# Detailed Analysis

## 1. Income Analysis

### Total Income
- Total income for the period: $X

### Income Breakdown
- Source 1: $X (X% of total)
- Source 2: $X (X% of total)

### Income Trends and Patterns

### Largest Income Transactions

## 2. Expense Analysis

### Total Expenses
- Total expenses for the period: $X

### Expense Categorization
- Category 1: $X (X% of total)
- Category 2: $X (X% of total)

### Expense Trends and Patterns

### Largest Expense Transactions

## 3. Cash Flow Analysis

### Net Cash Flow
- Net cash flow for the period: $X

### Monthly Cash Flow Trends

### Cash Flow Stability Assessment

## 4. Transaction Analysis

### Transaction Overview
- Total number of transactions: X
- Average transaction size: $X

### Transaction Patterns

### Unusual or Noteworthy Transactions

## 5. Financial Ratios

- Income-to-expense ratio: X
- Savings rate: X%
- Debt-to-income ratio (if applicable): X
- Liquidity ratio: X

## 6. Trend Analysis

### Monthly Trends

### Seasonal Patterns or Cyclical Behavior

## 7. Risk Assessment

### Potential Financial Risks

### Overall Financial Stability

# Underwriter's Analysis

## Overall Financial Health Assessment

## Potential Red Flags or Areas of Concern

## Positive Aspects of Financial Behavior

## Account Holder's Financial Situation and Habits

## Areas Needing More Information

## Insights for Underwriting Decisions

# Recommendations

## Financial Health Improvement Suggestions

## Cost-Saving and Income Growth Opportunities

Use bullet points, numbered lists, and other markdown formatting to enhance readability. Ensure there is adequate spacing between sections for easy scanning.`

const visualizeSystemPrompt = "You are a data visualization expert. Given a set of financial transactions, generate JSON data for creating charts and graphs. Focus on key financial metrics and trends. The output should be a valid JSON object with a 'charts' array containing chart configurations compatible with Chart.js. Ensure that all numeric values are properly formatted as numbers, not strings. Include at least one bar chart and one line chart."

const analyzeStatementSystemPrompt = "You are a financial analyst specializing in analyzing bank statements. Provide a concise summary and key details of the financial situation based on the given bank statement. Always start your response with 'Summary:' followed by a brief overview."

const ocrSystemPrompt = "You are an OCR system. Extract all readable text from the given bank statement chunk, focusing on transaction details, dates, amounts, and other relevant financial information. Ignore any non-text elements or formatting instructions."

const analyzeTransactionsSystemPrompt = "You are a financial analyst. Analyze the given transactions and provide a summary including total income, expenses, largest transaction, average transaction size, number of transactions, and net profit. Also, provide a brief assessment of the financial health based on these transactions."

const compareSystemPrompt = "You are a financial analyst tasked with comparing multiple financial analyses. Provide a comprehensive comparison highlighting key differences, trends, and insights across the analyses."

func extractUserPrompt(period, chunk string) string {
	return fmt.Sprintf("Extract financial data from this bank statement chunk for %s:\n\n%s", period, chunk)
}

func aggregateUserPrompt(period, extracted string, w Window) string {
	start, end := w.describe()
	return fmt.Sprintf("Extract transactions and calculate summary data from this financial data for %s. Only include transactions between %s and %s:\n\n%s",
		period, start, end, extracted)
}

func analyzeUserPrompt(all *AllTransactions, w Window) (string, error) {
	body, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return "", fmt.Errorf("analyzeUserPrompt: marshal transactions: %w", err)
	}
	start, end := w.describe()
	return fmt.Sprintf("Analyze this financial data from multiple months, considering only transactions between %s and %s:\n\n%s",
		start, end, body), nil
}

func visualizeUserPrompt(all *AllTransactions) (string, error) {
	body, err := json.Marshal(all)
	if err != nil {
		return "", fmt.Errorf("visualizeUserPrompt: marshal transactions: %w", err)
	}
	return "Generate visualization data for these transactions. Ensure the output is a valid JSON object:\n\n" + string(body), nil
}

func analyzeStatementUserPrompt(text string) string {
	return "Analyze this bank statement and provide a summary of the financial situation, including total income, expenses, largest transaction, average daily balance, number of transactions, and net profit. Also, provide a brief assessment of the business's financial health. Here's the statement:\n\n" + text
}

func ocrUserPrompt(chunk string) string {
	return "Extract readable text from this bank statement chunk:\n\n" + chunk
}

func analyzeTransactionsUserPrompt(part, total int, chunk string) string {
	return fmt.Sprintf("Analyze these transactions (part %d of %d):\n\n%s", part, total, chunk)
}

func extractTransactionsPrompt(statement string) string {
	return "Extract the high-level details and transactions from the following bank statement. Focus on dates, descriptions, and amounts. Format the output as a clear, readable list:\n\n" +
		statement +
		"\n\nProvide the extracted data in a clear, structured format."
}

func summaryPrompt(extracted string) string {
	return `Analyze the following bank statement data and provide a summary including total income, total expenses, net profit, largest transaction, and a brief overview of the financial health:

` + extracted + `

Provide the response in the following JSON format:
{
  "overview": "Brief overview of financial health",
  "totalIncome": 0,
  "totalExpenses": 0,
  "netProfit": 0,
  "largestTransaction": 0,
  "chartData": {
    "labels": ["Income", "Expenses"],
    "values": [0, 0]
  }
}`
}

func compareUserPrompt(analyses []json.RawMessage) (string, error) {
	body, err := json.MarshalIndent(analyses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("compareUserPrompt: marshal analyses: %w", err)
	}
	return "Compare the following financial analyses:\n\n" + string(body), nil
}
