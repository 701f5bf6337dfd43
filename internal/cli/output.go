package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shaiso/Foldflow/internal/domain"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output в stdout/stderr. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с явными writers.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	// Заголовки
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	// Разделитель
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	// Строки данных
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// Manifest выводит итог run: стадии таблицей или весь manifest в JSON.
func (o *Output) Manifest(rm *domain.RunManifest) {
	if o.jsonMode {
		o.JSON(rm)
		return
	}

	headers := []string{"STAGE", "STATUS", "BRANCHES", "FAILED", "DURATION", "DETAIL"}
	rows := make([][]string, 0, len(rm.Stages))
	for _, s := range rm.Stages {
		detail := s.Reason
		if s.Error != "" {
			detail = s.Error
		}
		rows = append(rows, []string{
			s.Stage,
			string(s.Status),
			countOrDash(s.Branches),
			countOrDash(s.Failed),
			formatMs(s.DurationMs),
			detail,
		})
	}
	o.Table(headers, rows)

	fmt.Fprintln(o.w)
	fmt.Fprintf(o.w, "run:           %s\n", rm.Run.ID)
	fmt.Fprintf(o.w, "status:        %s\n", rm.Status)
	fmt.Fprintf(o.w, "directory:     %s\n", rm.Run.WorkDir)
	if rm.Secondary != nil {
		fmt.Fprintf(o.w, "structure:     %s (%.2f kcal/mol, %d pairs)\n",
			rm.Secondary.Structure, rm.Secondary.Energy, rm.Secondary.BasePairs)
	}
	if len(rm.Variants) > 1 {
		names := make([]string, len(rm.Variants))
		for i, v := range rm.Variants {
			names[i] = v.Variant
		}
		fmt.Fprintf(o.w, "variants:      %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(o.w, "artifacts:     %d (%d placeholders, %d failed branches)\n",
		len(rm.Entries), rm.Placeholders, rm.FailedBranches)
	if rm.Run.Error != "" {
		fmt.Fprintf(o.w, "error:         %s\n", rm.Run.Error)
	}
}

func countOrDash(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func formatMs(ms int64) string {
	if ms < 1000 {
		return strconv.FormatInt(ms, 10) + "ms"
	}
	return strconv.FormatFloat(float64(ms)/1000, 'f', 1, 64) + "s"
}
