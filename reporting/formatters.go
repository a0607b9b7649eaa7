package reporting

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/templates"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum-optimism/infra/layout-tester/ui"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	return templates.FormatDuration(d)
}

// formatResultLine renders "N test case(s) (P%) message"
func formatResultLine(count, total int, message string) string {
	plural := "s"
	if count == 1 {
		plural = ""
	}
	pct := 0.0
	if total > 0 {
		pct = float64(count) * 100 / float64(total)
	}
	return fmt.Sprintf("%d test case%s (%.1f%%) %s", count, plural, pct, message)
}

// ReportFormatter defines the interface for different report output formats
type ReportFormatter interface {
	Format(data *ReportData) (string, error)
}

// ReportWriter defines the interface for writing reports to various destinations
type ReportWriter interface {
	Write(content string) error
}

// FileWriter writes reports to a file
type FileWriter struct {
	path string
}

// NewFileWriter creates a new file writer
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Write writes the content to the file
func (fw *FileWriter) Write(content string) error {
	return os.WriteFile(fw.path, []byte(content), 0644)
}

// StdoutWriter writes reports to stdout, or to another stream when one is given
type StdoutWriter struct {
	out io.Writer
}

// NewStdoutWriter creates a new stdout writer
func NewStdoutWriter(out io.Writer) *StdoutWriter {
	if out == nil {
		out = os.Stdout
	}
	return &StdoutWriter{out: out}
}

// Write writes the content to the stream
func (sw *StdoutWriter) Write(content string) error {
	_, err := io.WriteString(sw.out, content)
	return err
}

// multiWriter writes the same content to every writer, stopping at the first error
type multiWriter []ReportWriter

func (mw multiWriter) Write(content string) error {
	for _, w := range mw {
		if err := w.Write(content); err != nil {
			return err
		}
	}
	return nil
}

// TextSummaryFormatter formats the three summary blocks as plain text
type TextSummaryFormatter struct{}

// NewTextSummaryFormatter creates a new text summary formatter
func NewTextSummaryFormatter() *TextSummaryFormatter {
	return &TextSummaryFormatter{}
}

// Format formats the report data as a text summary
func (tsf *TextSummaryFormatter) Format(data *ReportData) (string, error) {
	var summary strings.Builder
	for _, b := range data.Blocks {
		fmt.Fprintf(&summary, "\n=> %s (%d):\n", b.Heading, b.Total)
		for _, line := range b.Lines {
			if line.Count == 0 {
				continue
			}
			fmt.Fprintf(&summary, "  %s\n", formatResultLine(line.Count, b.Total, line.Message))
		}
	}
	return summary.String(), nil
}

// HTMLFormatter formats the failing tests of a run as HTML
type HTMLFormatter struct {
	template *template.Template
	full     bool
}

// NewHTMLFormatter creates a new HTML formatter. With full set every failing
// test is listed, otherwise only the regressions.
func NewHTMLFormatter(templateContent string, full bool) (*HTMLFormatter, error) {
	tmpl, err := template.New("report").Funcs(templates.GetTemplateFunc()).Parse(templateContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}

	return &HTMLFormatter{
		template: tmpl,
		full:     full,
	}, nil
}

// HTMLSummaryData is the data handed to the HTML template
type HTMLSummaryData struct {
	Title         string
	Heading       string
	RunID         string
	Time          string
	TotalDuration string
	Platform      string
	Total         int
	Tests         []ReportTestItem
}

// Items returns the tests the formatter lists for data
func (hf *HTMLFormatter) Items(data *ReportData) []ReportTestItem {
	if hf.full {
		return data.Failing
	}
	return data.Regressions
}

// Format formats the report data as HTML
func (hf *HTMLFormatter) Format(data *ReportData) (string, error) {
	heading := "Unexpected Test Failures"
	if hf.full {
		heading = "Test Failures"
	}
	htmlData := &HTMLSummaryData{
		Title:         fmt.Sprintf("Layout Test Results (%s)", data.Timestamp.Format(time.RFC3339)),
		Heading:       heading,
		RunID:         data.RunID,
		Time:          data.Timestamp.Format(time.RFC3339),
		TotalDuration: FormatDuration(data.Duration),
		Platform:      data.Platform,
		Total:         data.Total,
		Tests:         hf.Items(data),
	}

	var buf bytes.Buffer
	if err := hf.template.Execute(&buf, htmlData); err != nil {
		return "", fmt.Errorf("failed to execute HTML template: %w", err)
	}

	return buf.String(), nil
}

// UnexpectedFormatter lists the regressions and flaky tests of a run, one per
// line, with the classification of each attempt
type UnexpectedFormatter struct{}

// Format formats the unexpected results as plain text
func (UnexpectedFormatter) Format(data *ReportData) (string, error) {
	var out strings.Builder
	fmt.Fprintf(&out, "Regressions: Unexpected failures (%d):\n", len(data.Regressions))
	for _, item := range data.Regressions {
		fmt.Fprintf(&out, "  %s = %s\n", item.Name, attemptHistory(item))
	}
	fmt.Fprintf(&out, "\nFlaky: Unexpected failures that passed on retry (%d):\n", len(data.Flaky))
	for _, item := range data.Flaky {
		fmt.Fprintf(&out, "  %s = %s\n", item.Name, attemptHistory(item))
	}
	return out.String(), nil
}

func attemptHistory(item ReportTestItem) string {
	final := string(item.Classification)
	if final == "" {
		final = "NOT_RUN"
	}
	if item.FirstPass == "" || item.FirstPass == item.Classification {
		return final
	}
	return string(item.FirstPass) + " " + final
}

// TableFormatter formats the outcome of a run as an ASCII table
type TableFormatter struct {
	showIndividualTests bool
	title               string
}

// NewTableFormatter creates a new table formatter. With showIndividualTests
// set the failing tests are listed below the counts.
func NewTableFormatter(title string, showIndividualTests bool) *TableFormatter {
	return &TableFormatter{
		showIndividualTests: showIndividualTests,
		title:               title,
	}
}

// Format formats the report data as an ASCII table
func (tf *TableFormatter) Format(data *ReportData) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(tf.title)

	t.AppendHeader(table.Row{"Type", "ID", "Duration", "Result", "Expected"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, c := range types.AllClassifications {
		if data.Counts[c] == 0 {
			continue
		}
		t.AppendRow(table.Row{"Result", string(c), "", data.Counts[c], ""})
	}
	if data.Skipped > 0 {
		t.AppendRow(table.Row{"Result", string(types.ClassSkip), "", data.Skipped, ""})
	}
	if data.NotRun > 0 {
		t.AppendRow(table.Row{"Result", "NOT RUN", "", data.NotRun, ""})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Unexpected", "Flaky", "", len(data.Flaky), "flaky"})
	t.AppendRow(table.Row{"Unexpected", "Regressions", "", len(data.Regressions), "no"})

	if tf.showIndividualTests && len(data.Failing) > 0 {
		t.AppendSeparator()
		for i, item := range data.Failing {
			last := i == len(data.Failing)-1
			expected := "yes"
			if item.Regression {
				expected = "no"
			} else if item.Flaky {
				expected = "flaky"
			}
			t.AppendRow(table.Row{
				"Test",
				ui.BuildTreePrefix(1, last, nil) + item.Name,
				FormatDuration(item.Duration),
				string(item.Classification),
				expected,
			})
			messages := make([]string, 0, len(item.Failures))
			for _, f := range item.Failures {
				messages = append(messages, f.Message())
			}
			for _, line := range ui.TreeLines(messages, last) {
				t.AppendRow(table.Row{"Test", line, "", "", ""})
			}
		}
	}

	switch {
	case data.HasRegressions():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case len(data.Flaky) > 0 || data.NotRun > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	overall := "PASS"
	if data.HasRegressions() {
		overall = fmt.Sprintf("%d REGRESSIONS", len(data.Regressions))
	}
	t.AppendFooter(table.Row{"TOTAL", data.RunID, FormatDuration(data.Duration), data.Total, overall})

	t.Render()
	return buf.String(), nil
}

// ReportGenerator combines builder, formatter, and writer for easy report generation
type ReportGenerator struct {
	builder   *ReportBuilder
	formatter ReportFormatter
	writer    ReportWriter
}

// NewReportGenerator creates a new report generator
func NewReportGenerator(builder *ReportBuilder, formatter ReportFormatter, writer ReportWriter) *ReportGenerator {
	return &ReportGenerator{
		builder:   builder,
		formatter: formatter,
		writer:    writer,
	}
}

// GenerateFromSummary builds, formats and writes a report for summary
func (rg *ReportGenerator) GenerateFromSummary(summary *types.ResultSummary) error {
	return rg.GenerateReport(rg.builder.Build(summary))
}

// GenerateReport generates a report from pre-built report data
func (rg *ReportGenerator) GenerateReport(reportData *ReportData) error {
	content, err := rg.formatter.Format(reportData)
	if err != nil {
		return fmt.Errorf("failed to format report: %w", err)
	}

	if err := rg.writer.Write(content); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}
