package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"
)

// PageOutcome is one page fetch attempt's result, as observed by
// internal/crawler. Mirrors the shape of the teacher's ScrapeResult, scoped
// to what a crawl run needs to summarize.
type PageOutcome struct {
	Host       string
	URL        string
	StatusCode int
	Bytes      int
	Stored     bool
	Error      string
	FetchedAt  time.Time
}

// Summary contains aggregated metrics about a crawl run.
type Summary struct {
	TotalRequests int
	TotalErrors   int
	TotalStored   int
	StatusCodes   map[int]int
	ErrorsByHost  map[string]int
	TotalBytes    int64
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}

// GenerateSummary processes a slice of page outcomes to generate summary metrics.
func GenerateSummary(outcomes []PageOutcome) Summary {
	s := Summary{
		StatusCodes:  make(map[int]int),
		ErrorsByHost: make(map[string]int),
	}

	if len(outcomes) == 0 {
		return s
	}

	s.StartTime = outcomes[0].FetchedAt
	s.EndTime = outcomes[0].FetchedAt

	for _, o := range outcomes {
		s.TotalRequests++
		if o.Error != "" {
			s.TotalErrors++
			s.ErrorsByHost[o.Host]++
		}
		if o.Stored {
			s.TotalStored++
		}
		if o.StatusCode > 0 {
			s.StatusCodes[o.StatusCode]++
		}
		s.TotalBytes += int64(o.Bytes)

		if o.FetchedAt.Before(s.StartTime) {
			s.StartTime = o.FetchedAt
		}
		if o.FetchedAt.After(s.EndTime) {
			s.EndTime = o.FetchedAt
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Burrowler Crawl Summary
-----------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Total Fetch:   {{.TotalRequests}} requests
Total Stored:  {{.TotalStored}} pages
Total Bytes:   {{.TotalBytes}} bytes
Total Errors:  {{.TotalErrors}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Errors By Host:
{{- range $host, $count := .ErrorsByHost}}
  {{$host}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Burrowler Crawl Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Burrowler Crawl Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Total Requests</div>
    <div class="stat-val">{{.TotalRequests}}</div>
  </div>
  <div class="stat-card">
    <div>Stored</div>
    <div class="stat-val">{{.TotalStored}}</div>
  </div>
  <div class="stat-card">
    <div>Errors</div>
    <div class="stat-val" style="color: {{if gt .TotalErrors 0}}red{{else}}green{{end}};">{{.TotalErrors}}</div>
  </div>
  <div class="stat-card">
    <div>Total Bytes</div>
    <div class="stat-val">{{.TotalBytes}}</div>
  </div>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Errors By Host</h3>
  <table>
    <tr><th>Host</th><th>Count</th></tr>
    {{- range $host, $count := .ErrorsByHost}}
    <tr><td>{{$host}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}

	return nil
}
