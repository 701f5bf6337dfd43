package fold

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Structure — вторичная структура из вывода RNAfold.
type Structure struct {
	Sequence   string
	DotBracket string
	Energy     float64
}

// ParseRNAfold разбирает stdout RNAfold:
//
//	>id
//	GGGAAACCC
//	(((...))) ( -1.20)
//
// Строки заголовка и комментарии (#) пропускаются.
func ParseRNAfold(r io.Reader) (*Structure, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ">") || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read structure: %w", err)
	}
	if len(lines) < 2 {
		return nil, ErrEmptyStructure
	}

	fields := strings.Fields(lines[1])
	s := &Structure{
		Sequence:   strings.ToUpper(lines[0]),
		DotBracket: fields[0],
	}

	energy := strings.Trim(strings.Join(fields[1:], ""), "()")
	if energy == "" {
		return nil, fmt.Errorf("%w: no energy", ErrMalformed)
	}
	e, err := strconv.ParseFloat(energy, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: energy %q", ErrMalformed, energy)
	}
	s.Energy = e

	if err := Validate(s.Sequence, s.DotBracket); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadRNAfold разбирает файл с выводом RNAfold.
func ReadRNAfold(path string) (*Structure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open structure: %w", err)
	}
	defer f.Close()
	return ParseRNAfold(f)
}

// Validate проверяет dot-bracket структуру: длина равна длине
// последовательности, скобки сбалансированы.
func Validate(sequence, dotBracket string) error {
	if dotBracket == "" {
		return ErrEmptyStructure
	}
	if len(dotBracket) != len(sequence) {
		return fmt.Errorf("%w: structure length %d, sequence length %d",
			ErrMalformed, len(dotBracket), len(sequence))
	}
	if _, err := BasePairs(dotBracket); err != nil {
		return err
	}
	return nil
}

// BasePairs возвращает пары оснований (позиции с 1).
func BasePairs(dotBracket string) ([][2]int, error) {
	var (
		stack []int
		pairs [][2]int
	)
	for i, c := range dotBracket {
		switch c {
		case '(':
			stack = append(stack, i+1)
		case ')':
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unmatched ')' at %d", ErrMalformed, i+1)
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pairs = append(pairs, [2]int{open, i + 1})
		case '.':
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrMalformed, c, i+1)
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: unmatched '(' at %d", ErrMalformed, stack[len(stack)-1])
	}
	return pairs, nil
}

// WriteConstraint пишет dot-bracket строку для -secstruct_file.
func WriteConstraint(w io.Writer, s *Structure) error {
	_, err := fmt.Fprintln(w, s.DotBracket)
	return err
}
