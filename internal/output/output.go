// Package output renders CLI results as human-readable text, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/oriys/nova-ric/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format represents output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format string. Unknown values select text.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// Printer handles formatted output
type Printer struct {
	format  Format
	writer  io.Writer
	noColor bool
}

// NewPrinter creates a printer writing to w. Colors are off when NO_COLOR is
// set or w is not os.Stdout.
func NewPrinter(format Format, w io.Writer) *Printer {
	return &Printer{
		format:  format,
		writer:  w,
		noColor: os.Getenv("NO_COLOR") != "" || w != io.Writer(os.Stdout),
	}
}

// Print outputs data as JSON or YAML; text falls back to JSON.
func (p *Printer) Print(data any) error {
	if p.format == FormatYAML {
		enc := yaml.NewEncoder(p.writer)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.writer, string(b))
	return err
}

// Color codes
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"
)

// Colorize adds color to text
func (p *Printer) Colorize(color, text string) string {
	if p.noColor {
		return text
	}
	return color + text + Reset
}

// InvokeResult represents invocation result
type InvokeResult struct {
	RequestID  string `json:"request_id" yaml:"request_id"`
	Success    bool   `json:"success" yaml:"success"`
	ErrorType  string `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	Streamed   bool   `json:"streamed" yaml:"streamed"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
	Output     string `json:"output" yaml:"output"`
}

// PrintInvokeResult prints one invocation result. Text output is the
// payload alone, pretty-printed when it is JSON, preceded by a summary line.
func (p *Printer) PrintInvokeResult(result InvokeResult) error {
	if p.format != FormatText {
		return p.Print(result)
	}

	status := p.Colorize(Green, "OK")
	if !result.Success {
		status = p.Colorize(Red, "ERROR "+result.ErrorType)
	}
	mode := "buffered"
	if result.Streamed {
		mode = "streamed"
	}
	fmt.Fprintf(p.writer, "%s %s %s %s\n",
		p.Colorize(Cyan, "["+result.RequestID+"]"),
		status,
		p.Colorize(Gray, mode),
		p.Colorize(Gray, fmt.Sprintf("%dms", result.DurationMs)),
	)

	var pretty any
	if err := json.Unmarshal([]byte(result.Output), &pretty); err == nil {
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		_, err := fmt.Fprintln(p.writer, string(formatted))
		return err
	}
	_, err := fmt.Fprintln(p.writer, result.Output)
	return err
}

// HandlerRow represents a registered handler in table output
type HandlerRow struct {
	Descriptor string `json:"descriptor" yaml:"descriptor"`
	Mode       string `json:"mode" yaml:"mode"`
}

// PrintHandlers prints the handler list.
func (p *Printer) PrintHandlers(rows []HandlerRow) error {
	if p.format != FormatText {
		return p.Print(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(p.writer, "No handlers registered")
		return nil
	}
	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, p.Colorize(Bold, "HANDLER\tMODE"))
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\n", p.Colorize(Cyan, row.Descriptor), row.Mode)
	}
	return w.Flush()
}

// PrintRecords prints stored invocation records, newest first.
func (p *Printer) PrintRecords(recs []*logging.InvocationRecord) error {
	if p.format != FormatText {
		return p.Print(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(p.writer, "No invocations recorded")
		return nil
	}
	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, p.Colorize(Bold, "TIME\tREQUEST\tHANDLER\tMODE\tDURATION\tSTART\tSTATUS"))
	for _, rec := range recs {
		start := "warm"
		if rec.ColdStart {
			start = "cold"
		}
		status := p.Colorize(Green, "ok")
		if !rec.Success {
			status = p.Colorize(Red, rec.ErrorType)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\t%s\n",
			rec.Timestamp.Format(time.RFC3339), rec.RequestID, rec.Handler, rec.Mode, rec.DurationMs, start, status)
	}
	return w.Flush()
}
