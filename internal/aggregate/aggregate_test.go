package aggregate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Foldflow/internal/artifact"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/fold"
)

// branches создаёт n веток, ветки из failed помечаются FAILED.
// Каждая успешная ветка содержит models.out и perBranch моделей
// S_000001.pdb ..., модель j ветки i получает оценку -(10*i + j).
func branches(t *testing.T, root string, n, perBranch int, failed ...int) []domain.BranchResult {
	t.Helper()
	isFailed := make(map[int]bool)
	for _, i := range failed {
		isFailed[i] = true
	}

	var out []domain.BranchResult
	for i := 0; i < n; i++ {
		variant := fmt.Sprintf("b%02d", i)
		dir := filepath.Join(root, variant)
		os.MkdirAll(dir, 0o755)

		b := domain.BranchResult{
			Variant: variant,
			Dir:     dir,
			Output:  filepath.Join(dir, "models.out"),
			Status:  domain.StageStatusSucceeded,
		}
		if isFailed[i] {
			b.Status = domain.StageStatusFailed
			b.Error = "exit code 1"
			out = append(out, b)
			continue
		}

		silent := "SCORE: score description\n"
		for j := 1; j <= perBranch; j++ {
			tag := fmt.Sprintf("S_%06d", j)
			silent += fmt.Sprintf("SCORE: %d %s\n", -(10*i + j), tag)
			os.WriteFile(filepath.Join(dir, tag+".pdb"), []byte("ATOM\n"), 0o644)
		}
		os.WriteFile(b.Output, []byte(silent), 0o644)
		out = append(out, b)
	}
	return out
}

func TestCollect_PartialFailure(t *testing.T) {
	root := t.TempDir()

	m, err := Collect(Options{
		Stage:     "models",
		Pattern:   "*.pdb",
		Requested: 7,
		Minimum:   1,
		Branches:  branches(t, root, 7, 1, 2, 5),
		ScoreFile: "models.out",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Size() != 5 {
		t.Errorf("expected 5 artifacts, got %d", m.Size())
	}
	if m.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", m.Failed)
	}
	if len(m.Entries) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(m.Entries))
	}
	for _, e := range m.Entries[5:] {
		if e.Status != domain.ArtifactFailed {
			t.Errorf("failed entries should be last, got %s", e.Status)
		}
	}
	if m.Entries[0].Variant != "b00" || m.Entries[4].Variant != "b06" {
		t.Errorf("unexpected order: %s .. %s", m.Entries[0].Variant, m.Entries[4].Variant)
	}
}

func TestCollect_OneEntryPerBranch(t *testing.T) {
	root := t.TempDir()

	m, err := Collect(Options{
		Stage:     "models",
		Pattern:   "*.pdb",
		Requested: 7,
		Minimum:   5,
		Branches:  branches(t, root, 7, 2, 3, 6),
		ScoreFile: "models.out",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Size() != 5 {
		t.Fatalf("manifest size = %d, want 5 (one per surviving branch)", m.Size())
	}

	first := m.Entries[0]
	if first.Path != filepath.Join(root, "b00", "models.out") {
		t.Errorf("entry artifact = %s, want the branch silent file", first.Path)
	}
	wantModels := []string{
		filepath.Join(root, "b00", "S_000002.pdb"),
		filepath.Join(root, "b00", "S_000001.pdb"),
	}
	if len(first.Models) != 2 || first.Models[0] != wantModels[0] || first.Models[1] != wantModels[1] {
		t.Errorf("models = %v, want %v (best first)", first.Models, wantModels)
	}
	if first.Score == nil || *first.Score != -2 {
		t.Errorf("entry score = %v, want best model score -2", first.Score)
	}
	if first.Best() != wantModels[0] {
		t.Errorf("Best() = %s, want %s", first.Best(), wantModels[0])
	}

	if ShouldRank(m, 4) {
		t.Error("rank ceiling should count branches, not models")
	}
	if !ShouldRank(m, 5) {
		t.Error("5 branches fit a ceiling of 5")
	}
}

func TestCollect_ZeroSuccesses(t *testing.T) {
	root := t.TempDir()

	m, err := Collect(Options{
		Stage:    "models",
		Pattern:  "*.pdb",
		Minimum:  1,
		Branches: branches(t, root, 3, 1, 0, 1, 2),
	})

	var incomplete *domain.IncompleteManifestError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteManifestError, got %v", err)
	}
	if !errors.Is(err, domain.ErrIncompleteManifest) {
		t.Error("error should unwrap to ErrIncompleteManifest")
	}
	if incomplete.Found != 0 || incomplete.Failed != 3 {
		t.Errorf("unexpected error fields %+v", incomplete)
	}
	if m == nil || m.Failed != 3 {
		t.Error("manifest should be returned with failures recorded")
	}
}

func TestCollect_MinimumAboveOne(t *testing.T) {
	_, err := Collect(Options{
		Stage:    "models",
		Pattern:  "*.pdb",
		Minimum:  3,
		Branches: branches(t, t.TempDir(), 3, 4, 0),
	})
	if !errors.Is(err, domain.ErrIncompleteManifest) {
		t.Errorf("expected incomplete manifest with 2 of 3 branches, got %v", err)
	}
}

func TestCollect_PlaceholderBranch(t *testing.T) {
	root := t.TempDir()
	bs := branches(t, root, 2, 1)

	dir := filepath.Join(root, "b02")
	os.MkdirAll(dir, 0o755)
	ph := domain.BranchResult{Variant: "b02", Dir: dir, Output: filepath.Join(dir, "refined.pdb"), Status: domain.StageStatusPlaceholder}
	if err := artifact.WritePlaceholder(ph.Output, domain.FormatPDB, artifact.Meta{Stage: "refine"}); err != nil {
		t.Fatal(err)
	}

	m, err := Collect(Options{
		Stage:     "models",
		Pattern:   "*.pdb",
		Minimum:   1,
		Branches:  append(bs, ph),
		ScoreFile: "models.out",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	model, placeholder := m.Entries[0], m.Entries[2]
	if model.Status != domain.ArtifactSuccess || model.Score == nil || *model.Score != -1 {
		t.Errorf("unexpected model entry %+v", model)
	}
	if placeholder.Status != domain.ArtifactPlaceholder || placeholder.Score != nil || len(placeholder.Models) != 0 {
		t.Errorf("placeholder should be tagged and unscored, got %+v", placeholder)
	}
	if got := Top(m, 0); len(got) != 2 {
		t.Errorf("Top() = %v, placeholders must not be picked", got)
	}
}

func TestCollect_OutputMatchesPattern(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "b00")
	os.MkdirAll(dir, 0o755)
	out := filepath.Join(dir, "refined.pdb")
	os.WriteFile(out, []byte("ATOM\n"), 0o644)

	m, err := Collect(Options{
		Stage:    "refine",
		Pattern:  "refined.pdb",
		Minimum:  1,
		Branches: []domain.BranchResult{{Variant: "b00", Dir: dir, Output: out, Status: domain.StageStatusSucceeded}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e := m.Entries[0]; e.Path != out || len(e.Models) != 0 || e.Best() != out {
		t.Errorf("branch output should not be listed as its own model: %+v", e)
	}
}

func TestShouldRank(t *testing.T) {
	m := &domain.Manifest{}
	for i := 0; i < 5; i++ {
		m.Entries = append(m.Entries, domain.ManifestEntry{Status: domain.ArtifactSuccess})
	}

	tests := []struct {
		ceiling int
		want    bool
	}{
		{0, true},
		{5, true},
		{4, false},
	}
	for _, tt := range tests {
		if got := ShouldRank(m, tt.ceiling); got != tt.want {
			t.Errorf("ShouldRank(ceiling=%d) = %v, want %v", tt.ceiling, got, tt.want)
		}
	}
}

func TestApplyRankingAndTop(t *testing.T) {
	m := &domain.Manifest{Entries: []domain.ManifestEntry{
		{Path: "/r/b00/models.out", Models: []string{"/r/b00/S_000001.pdb"}, Status: domain.ArtifactSuccess},
		{Path: "/r/b01/models.out", Models: []string{"/r/b01/S_000002.pdb", "/r/b01/S_000001.pdb"}, Status: domain.ArtifactSuccess},
		{Path: "/r/b02/models.out", Models: []string{"/r/b02/S_000001.pdb"}, Status: domain.ArtifactSuccess},
		{Path: "/r/b03/models.out", Status: domain.ArtifactFailed},
	}}

	ApplyRanking(m, []fold.RankedModel{
		{Path: "/r/b01/S_000002.pdb", Score: -30},
		{Path: "/r/b00/S_000001.pdb", Score: -10},
	})

	want := []string{"/r/b01/models.out", "/r/b00/models.out", "/r/b02/models.out", "/r/b03/models.out"}
	for i, p := range want {
		if m.Entries[i].Path != p {
			t.Errorf("entry %d: expected %s, got %s", i, p, m.Entries[i].Path)
		}
	}
	if !m.Ranked {
		t.Error("manifest should be marked ranked")
	}
	if s := m.Entries[0].Score; s == nil || *s != -30 {
		t.Errorf("ranked entry score = %v, want -30", s)
	}

	top := Top(m, 2)
	if len(top) != 2 || top[0] != "/r/b01/S_000002.pdb" || top[1] != "/r/b00/S_000001.pdb" {
		t.Errorf("unexpected top %v", top)
	}
}

func TestTop_UnrankedUsesScores(t *testing.T) {
	lo, hi := -20.0, -5.0
	m := &domain.Manifest{Entries: []domain.ManifestEntry{
		{Path: "a", Status: domain.ArtifactSuccess, Score: &hi},
		{Path: "p", Status: domain.ArtifactPlaceholder},
		{Path: "b", Status: domain.ArtifactSuccess, Score: &lo},
		{Path: "c", Status: domain.ArtifactSuccess},
	}}

	top := Top(m, 5)
	want := []string{"b", "a", "c"}
	if len(top) != len(want) {
		t.Fatalf("expected %v, got %v", want, top)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], top[i])
		}
	}
}

func TestWriteReadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "manifest.json")
	m := &domain.Manifest{
		Stage:     "models",
		Requested: 2,
		Entries:   []domain.ManifestEntry{{Path: "/x.pdb", Stage: "models", Status: domain.ArtifactSuccess}},
	}

	if err := WriteManifest(path, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Stage != "models" || got.Size() != 1 || got.Entries[0].Path != "/x.pdb" {
		t.Errorf("unexpected manifest %+v", got)
	}
}
