package fold

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadSequence(t *testing.T) {
	path := writeFile(t, "in.fasta", ">sui3 yeast mRNA\nGGGAAA\nTTTCCC\n")

	s, err := ReadSequence(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "sui3" {
		t.Errorf("expected id sui3, got %q", s.ID)
	}
	if s.Residues != "GGGAAAUUUCCC" {
		t.Errorf("expected GGGAAAUUUCCC, got %q", s.Residues)
	}
}

func TestReadSequence_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"two records", ">a\nGGG\n>b\nCCC\n", ErrMultipleSequence},
		{"no records", "", ErrNoSequence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSequence(writeFile(t, "in.fasta", tt.content))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWriteFasta(t *testing.T) {
	var buf bytes.Buffer
	s := &Sequence{ID: "x", Residues: strings.Repeat("A", 61)}
	if err := WriteFasta(&buf, s); err != nil {
		t.Fatal(err)
	}
	want := ">x\n" + strings.Repeat("A", 60) + "\nA\n"
	if buf.String() != want {
		t.Errorf("unexpected fasta:\n%s", buf.String())
	}
}

func TestParseRNAfold(t *testing.T) {
	out := ">sui3\nGGGGAAACCCC\n((((...)))) ( -4.70)\n"

	s, err := ParseRNAfold(strings.NewReader(out))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DotBracket != "((((...))))" {
		t.Errorf("unexpected structure %q", s.DotBracket)
	}
	if s.Energy != -4.7 {
		t.Errorf("expected energy -4.7, got %v", s.Energy)
	}
}

func TestParseRNAfold_Malformed(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want error
	}{
		{"empty", "", ErrEmptyStructure},
		{"sequence only", "GGGAAACCC\n", ErrEmptyStructure},
		{"length mismatch", "GGGAAACCC\n(((...)) ( -1.00)\n", ErrMalformed},
		{"unbalanced", "GGGAAACCC\n((((..))) ( -1.00)\n", ErrMalformed},
		{"no energy", "GGGAAACCC\n(((...)))\n", ErrMalformed},
		{"bad char", "GGGAAACCC\n(((.x.))) ( -1.00)\n", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRNAfold(strings.NewReader(tt.out))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBasePairs(t *testing.T) {
	pairs, err := BasePairs("((.))..()")
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]int{{2, 4}, {1, 5}, {8, 9}}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %v", len(want), pairs)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d: expected %v, got %v", i, want[i], pairs[i])
		}
	}
}

func TestParseSilentScores(t *testing.T) {
	silent := `SEQUENCE: gggaaaccc
SCORE:     score    fa_atr    rms description
REMARK BINARY_SILENT_FILE
SCORE:   -12.50    -30.1   4.2 S_000001
SCORE:    -8.25    -22.0   5.0 S_000002
ANNOTATED_SEQUENCE: g[RGU]g[RGU] S_000001
`
	scores, err := ParseSilentScores(strings.NewReader(silent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %v", scores)
	}
	if scores["S_000001"] != -12.5 || scores["S_000002"] != -8.25 {
		t.Errorf("unexpected scores %v", scores)
	}
}

func TestReadSilentScores_Missing(t *testing.T) {
	scores, err := ReadSilentScores(filepath.Join(t.TempDir(), "missing.out"))
	if err != nil || len(scores) != 0 {
		t.Errorf("expected empty scores, got %v, %v", scores, err)
	}
}

func TestParseRanking(t *testing.T) {
	out := "# model score\n/run/models/b01/S_1.pdb -20.5\n\n/run/models/b00/S_1.pdb -10\n"

	ranked, err := ParseRanking(strings.NewReader(out))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Path != "/run/models/b01/S_1.pdb" || ranked[1].Score != -10 {
		t.Errorf("unexpected ranking %+v", ranked)
	}

	if _, err := ParseRanking(strings.NewReader("only-path\n")); err == nil {
		t.Error("expected error for line without score")
	}
}
