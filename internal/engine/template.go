package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Context — контекст для рендеринга командных строк и путей.
//
// Используется в Go templates для доступа к данным:
//   - {{ .Inputs.fasta }}
//   - {{ .Stages.secondary.Output }}
//   - {{ .Tool.Path }}, {{ .Post.Path }}
//   - {{ .Stage.Output }}, {{ .Branch.Seed }}
type Context struct {
	// Inputs — данные run: sequence, fasta, constraint, models, ...
	Inputs map[string]any `json:"inputs"`

	// Stages — завершённые стадии.
	Stages map[string]*StageContext `json:"stages"`

	// Tool — инструмент текущей стадии.
	Tool ToolContext `json:"tool"`

	// Post — post tool текущей стадии.
	Post ToolContext `json:"post"`

	// Stage — текущая стадия.
	Stage StageInfo `json:"stage"`

	// Branch — текущая ветка fan-out.
	Branch BranchInfo `json:"branch"`
}

// StageContext — результат стадии для использования в шаблонах.
type StageContext struct {
	// Dir — директория стадии.
	Dir string `json:"dir"`

	// Output — выходной артефакт одиночной стадии.
	Output string `json:"output,omitempty"`

	// Manifest — manifest fan-out стадии.
	Manifest string `json:"manifest,omitempty"`

	// Status — итог: "SUCCEEDED", "SKIPPED", "PLACEHOLDER", "FAILED".
	Status string `json:"status"`
}

// ToolContext — инструмент в шаблоне.
type ToolContext struct {
	Path    string   `json:"path"`
	Args    []string `json:"args,omitempty"`
	Threads int      `json:"threads,omitempty"`
}

// StageInfo — текущая стадия в шаблоне.
type StageInfo struct {
	ID     string `json:"id"`
	Dir    string `json:"dir"`
	Output string `json:"output"`
}

// BranchInfo — текущая ветка в шаблоне.
type BranchInfo struct {
	Variant string `json:"variant"`
	Index   int    `json:"index"`
	Seed    int64  `json:"seed"`
	Dir     string `json:"dir"`
	Output  string `json:"output"`
	Input   string `json:"input,omitempty"`

	// Args — аргументы набора параметров (ветки Sweep).
	Args []string `json:"args,omitempty"`

	// Constraint — файл ограничения варианта. Заменяет Inputs.constraint.
	Constraint string `json:"constraint,omitempty"`
}

// NewContext создаёт новый контекст с входными данными run.
func NewContext(inputs map[string]any) *Context {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &Context{
		Inputs: inputs,
		Stages: make(map[string]*StageContext),
	}
}

// AddStageResult добавляет результат стадии в контекст.
func (c *Context) AddStageResult(stageID string, sc *StageContext) {
	c.Stages[stageID] = sc
}

// ForStage возвращает копию контекста для рендеринга шаблонов стадии.
// Inputs и Stages общие, Tool/Post/Stage/Branch свои.
func (c *Context) ForStage(stage StageInfo, tool, post ToolContext) *Context {
	return &Context{
		Inputs: c.Inputs,
		Stages: c.Stages,
		Tool:   tool,
		Post:   post,
		Stage:  stage,
	}
}

// ForBranch возвращает копию контекста стадии для ветки.
func (c *Context) ForBranch(branch BranchInfo) *Context {
	cp := *c
	cp.Branch = branch
	if branch.Constraint != "" {
		cp.Inputs = make(map[string]any, len(c.Inputs)+1)
		for k, v := range c.Inputs {
			cp.Inputs[k] = v
		}
		cp.Inputs[InputConstraint] = branch.Constraint
	}
	return &cp
}

// ShellQuote заключает строку в одинарные кавычки для /bin/sh.
func ShellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=+,@%", r):
		return false
	default:
		return true
	}
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// quote — экранирует значение для shell
	"quote": ShellQuote,

	// args — экранированные аргументы через пробел, с ведущим пробелом
	"args": func(items []string) string {
		var b strings.Builder
		for _, it := range items {
			b.WriteByte(' ')
			b.WriteString(ShellQuote(it))
		}
		return b.String()
	},

	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
}

// Render рендерит строковый шаблон с контекстом.
//
// Отсутствующий ключ в Inputs или Stages — ошибка рендеринга.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// MustRender рендерит шаблон и паникует при ошибке.
// Используется только для тестов.
func MustRender(tmpl string, ctx *Context) string {
	result, err := Render(tmpl, ctx)
	if err != nil {
		panic(err)
	}
	return result
}
