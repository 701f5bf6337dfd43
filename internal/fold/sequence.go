package fold

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TuftsBCB/io/fasta"
	"github.com/TuftsBCB/seq"
)

// Ошибки разбора входов и выходов инструментов.
var (
	ErrNoSequence       = errors.New("no sequence found")
	ErrMultipleSequence = errors.New("more than one sequence")
	ErrInvalidSequence  = errors.New("invalid nucleotide sequence")
	ErrEmptyStructure   = errors.New("empty secondary structure")
	ErrMalformed        = errors.New("malformed secondary structure")
)

// Sequence — входная последовательность.
type Sequence struct {
	ID       string
	Residues string
}

// ReadSequence читает единственную запись из FASTA файла.
// Последовательность приводится к верхнему регистру, T заменяется на U.
func ReadSequence(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sequence: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSequence, path)
	}

	seqs, err := fasta.NewReader(f).ReadAll()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read fasta %s: %w", path, err)
	}
	switch {
	case len(seqs) == 0:
		return nil, fmt.Errorf("%w in %s", ErrNoSequence, path)
	case len(seqs) > 1:
		return nil, fmt.Errorf("%w in %s: %d records", ErrMultipleSequence, path, len(seqs))
	}

	return fromSeq(seqs[0])
}

func fromSeq(s seq.Sequence) (*Sequence, error) {
	var b strings.Builder
	for _, r := range s.Residues {
		c := byte(r)
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c == 'T' {
			c = 'U'
		}
		b.WriteByte(c)
	}
	residues := b.String()

	if residues == "" {
		return nil, fmt.Errorf("%w: record %q is empty", ErrNoSequence, s.Name)
	}
	if i := strings.IndexFunc(residues, func(r rune) bool {
		return !strings.ContainsRune("ACGUN", r)
	}); i >= 0 {
		return nil, fmt.Errorf("%w: %q at position %d", ErrInvalidSequence, residues[i], i+1)
	}

	id := strings.Fields(s.Name)
	name := "sequence"
	if len(id) > 0 {
		name = id[0]
	}
	return &Sequence{ID: name, Residues: residues}, nil
}

// WriteFasta пишет последовательность в формате FASTA (60 символов в строке).
func WriteFasta(w io.Writer, s *Sequence) error {
	if _, err := fmt.Fprintf(w, ">%s\n", s.ID); err != nil {
		return err
	}
	for i := 0; i < len(s.Residues); i += 60 {
		end := min(i+60, len(s.Residues))
		if _, err := fmt.Fprintln(w, s.Residues[i:end]); err != nil {
			return err
		}
	}
	return nil
}
