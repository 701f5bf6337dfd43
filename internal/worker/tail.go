package worker

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
)

// tailBuffer хранит последние n строк записанного потока.
type tailBuffer struct {
	mu    sync.Mutex
	n     int
	lines []string
	part  []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := append(t.part, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.push(string(data[:i]))
		data = data[i+1:]
	}
	t.part = append([]byte(nil), data...)
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

// String возвращает накопленные строки, включая незавершённую.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if len(t.part) > 0 {
		lines = append(append([]string(nil), lines...), string(t.part))
		if len(lines) > t.n {
			lines = lines[len(lines)-t.n:]
		}
	}
	return strings.Join(lines, "\n")
}

// maxTailRead — сколько байт с конца файла читает FileTail.
const maxTailRead = 64 << 10

// FileTail возвращает последние n строк файла.
// Используется для журналов batch jobs, которые пишет планировщик.
func FileTail(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if info.Size() > maxTailRead {
		if _, err := f.Seek(info.Size()-maxTailRead, io.SeekStart); err != nil {
			return ""
		}
	}

	tail := newTailBuffer(n)
	io.Copy(tail, f)
	return strings.TrimRight(tail.String(), "\n")
}
