// Package artifact проверяет готовность артефактов стадий и пишет placeholder
// для недоступных optional инструментов.
//
// Placeholder — детерминированный файл того же формата, что и настоящий
// артефакт. Первая строка всегда содержит Marker, поэтому placeholder
// отличим от реального результата и не влияет на ранжирование.
package artifact

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaiso/Foldflow/internal/domain"
)

// Marker — метка placeholder в первой строке файла.
const Marker = "FOLDFLOW-PLACEHOLDER"

// Meta — сведения, записываемые в placeholder.
type Meta struct {
	Stage    string
	Variant  string
	Tool     string
	Sequence string
	Reason   string
}

// Ready проверяет, что файл существует, обычный и не пуст.
func Ready(path string) bool {
	return domain.Artifact{Path: path}.Ready()
}

// IsPlaceholder проверяет, что файл — placeholder.
func IsPlaceholder(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return false
	}
	return strings.Contains(sc.Text(), Marker)
}

// Glob возвращает готовые артефакты dir, подходящие под pattern,
// в лексикографическом порядке.
func Glob(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	out := matches[:0]
	for _, m := range matches {
		if Ready(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// WritePlaceholder пишет placeholder формата format (пустой — простой текст).
// Содержимое зависит только от format и meta.
func WritePlaceholder(path string, format domain.ArtifactFormat, meta Meta) error {
	var b strings.Builder

	switch format {
	case domain.FormatPDB:
		fmt.Fprintf(&b, "REMARK 999 %s\n", Marker)
		for _, line := range describe(meta) {
			fmt.Fprintf(&b, "REMARK 999 %s\n", line)
		}
		residue := "  G"
		if meta.Sequence != "" {
			residue = fmt.Sprintf("%3s", meta.Sequence[:1])
		}
		fmt.Fprintf(&b, "ATOM      1  P   %s A   1       0.000   0.000   0.000  1.00  0.00           P\n", residue)
		b.WriteString("TER\nEND\n")

	case domain.FormatRanking:
		fmt.Fprintf(&b, "# %s\n", Marker)
		for _, line := range describe(meta) {
			fmt.Fprintf(&b, "# %s\n", line)
		}

	case "":
		b.WriteString(Marker + "\n")
		for _, line := range describe(meta) {
			b.WriteString(line + "\n")
		}

	default:
		return fmt.Errorf("unknown placeholder format %q", format)
	}

	return WriteFileAtomic(path, []byte(b.String()))
}

func describe(meta Meta) []string {
	var lines []string
	if meta.Stage != "" {
		s := "stage " + meta.Stage
		if meta.Variant != "" {
			s += " variant " + meta.Variant
		}
		lines = append(lines, s)
	}
	if meta.Tool != "" {
		lines = append(lines, "tool "+meta.Tool)
	}
	if meta.Reason != "" {
		lines = append(lines, "reason: "+meta.Reason)
	}
	return lines
}

// WriteFileAtomic пишет файл через временный файл и rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
