package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shaiso/Foldflow/internal/domain"
)

// ToolSpec — разрешённый инструмент, готовый к запуску.
type ToolSpec struct {
	// Name — логическое имя инструмента.
	Name string

	// Path — абсолютный путь к исполняемому файлу.
	Path string

	// Args — дополнительные аргументы.
	Args []string

	// Command — переопределённый шаблон команды (может быть пустым).
	Command string

	// Env — полное окружение процесса.
	Env []string

	// Resources — ресурсы для планировщика.
	Resources domain.Resources

	// Available — инструмент прошёл проверку.
	Available bool

	// Reason — почему инструмент недоступен.
	Reason string
}

// Toolset — результат резолвинга: инструменты по логическому имени.
type Toolset map[string]ToolSpec

// Get возвращает инструмент по имени.
func (ts Toolset) Get(name string) (ToolSpec, bool) {
	spec, ok := ts[name]
	return spec, ok
}

// Resolve проверяет все инструменты, которые использует spec.
//
// Для инструмента обязательной стадии любая проблема (нет файла, не
// исполняемый, нет директории LIBRARY_PATH) возвращается как
// ConfigurationError. Инструмент только optional стадий при любой проблеме
// помечается недоступным: такие стадии пишут placeholder.
func Resolve(cfg *Config, spec *domain.PipelineSpec) (Toolset, error) {
	tools := spec.Tools()

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	ts := make(Toolset, len(names))
	for _, name := range names {
		required := tools[name]

		tool, ok := cfg.Tools.ByName(name)
		if !ok {
			return nil, &domain.ConfigurationError{Tool: name, Message: "unknown tool"}
		}

		ts[name] = toolSpec(name, tool, cfg.Pipeline.BasePath)

		if key, reason := checkTool(name, tool); reason != "" {
			if required {
				return nil, &domain.ConfigurationError{Tool: name, Key: key, Message: reason}
			}
			spec := ts[name]
			spec.Available = false
			spec.Reason = reason
			ts[name] = spec
		}
	}
	return ts, nil
}

// checkTool возвращает ключ и причину, если инструмент непригоден.
func checkTool(name string, tool *Tool) (string, string) {
	prefix := "TOOL_" + strings.ToUpper(name) + "_"

	if tool.Path == "" {
		return prefix + "PATH", "path is not configured"
	}
	if !filepath.IsAbs(tool.Path) {
		return prefix + "PATH", fmt.Sprintf("path %q must be absolute", tool.Path)
	}
	info, ok := fileExists(tool.Path)
	if !ok {
		return prefix + "PATH", fmt.Sprintf("%s does not exist", tool.Path)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return prefix + "PATH", fmt.Sprintf("%s is not an executable file", tool.Path)
	}

	for _, dir := range filepath.SplitList(tool.LibraryPath) {
		if dir == "" {
			continue
		}
		if info, ok := fileExists(dir); !ok || !info.IsDir() {
			return prefix + "LIBRARY_PATH", fmt.Sprintf("library directory %s does not exist", dir)
		}
	}

	for _, kv := range tool.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return prefix + "ENV", fmt.Sprintf("malformed entry %q (want KEY=VALUE)", kv)
		}
	}
	return "", ""
}

// toolSpec собирает ToolSpec с явным окружением процесса.
func toolSpec(name string, tool *Tool, basePath string) ToolSpec {
	env := []string{"PATH=" + basePath}
	if tool.LibraryPath != "" {
		env = append(env, "LD_LIBRARY_PATH="+tool.LibraryPath)
	}
	if tool.Threads > 0 {
		env = append(env, "OMP_NUM_THREADS="+strconv.Itoa(tool.Threads))
	}
	env = append(env, tool.Env...)

	return ToolSpec{
		Name:    name,
		Path:    tool.Path,
		Args:    strings.Fields(tool.Args),
		Command: tool.Command,
		Env:     env,
		Resources: domain.Resources{
			Threads:  tool.Threads,
			Memory:   tool.Memory,
			WallTime: tool.WallTime,
			GPUs:     tool.GPUs,
		},
		Available: true,
	}
}
