package fold

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseSilentScores читает оценки моделей из silent файла ROSETTA.
//
// Заголовок: "SCORE: score ... description". Строка модели:
// "SCORE: -123.4 ... S_000001" — последняя колонка содержит тег модели,
// extract_pdbs пишет её в <tag>.pdb.
func ParseSilentScores(r io.Reader) (map[string]float64, error) {
	scores := make(map[string]float64)
	scoreCol := -1

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "SCORE:") {
			continue
		}
		fields := strings.Fields(line)[1:]
		if len(fields) < 2 {
			continue
		}

		// Заголовок: первая колонка не число
		if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
			for i, f := range fields {
				if f == "score" {
					scoreCol = i
					break
				}
			}
			continue
		}
		if scoreCol < 0 {
			scoreCol = 0
		}
		if scoreCol >= len(fields)-1 {
			continue
		}

		v, err := strconv.ParseFloat(fields[scoreCol], 64)
		if err != nil {
			continue
		}
		scores[fields[len(fields)-1]] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read silent file: %w", err)
	}
	return scores, nil
}

// ReadSilentScores читает оценки из silent файла.
// Отсутствующий файл даёт пустой результат.
func ReadSilentScores(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open silent file: %w", err)
	}
	defer f.Close()
	return ParseSilentScores(f)
}

// RankedModel — строка вывода ранжирования.
type RankedModel struct {
	Path  string
	Score float64
}

// ParseRanking разбирает строки "<path> <score>".
// Пустые строки и комментарии (#) пропускаются, порядок сохраняется.
func ParseRanking(r io.Reader) ([]RankedModel, error) {
	var out []RankedModel
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("ranking line %d: expected \"<path> <score>\"", n)
		}
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("ranking line %d: score %q: %w", n, fields[len(fields)-1], err)
		}
		out = append(out, RankedModel{Path: fields[0], Score: v})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ranking: %w", err)
	}
	return out, nil
}
