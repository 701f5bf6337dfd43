package domain

import "time"

// Execution — способ запуска инструмента стадии.
type Execution string

const (
	// ExecutionLocal — синхронный запуск на текущем узле.
	ExecutionLocal Execution = "local"

	// ExecutionBatch — отправка через JobSubmitter.
	ExecutionBatch Execution = "batch"
)

// ArtifactFormat — формат выходного артефакта.
// Определяет содержимое placeholder.
type ArtifactFormat string

const (
	FormatPDB     ArtifactFormat = "pdb"
	FormatRanking ArtifactFormat = "ranking"
)

// Артефакты, которые стадия может потреблять от upstream.
// Перед запуском потребителя они проверяются на пустоту и корректность.
const (
	ConsumesConstraint = "constraint"
)

// PipelineSpec — описание pipeline для одного режима.
//
// Аналог программы: набор стадий с зависимостями.
// Строится engine.BuildSpec из конфигурации.
type PipelineSpec struct {
	// Mode — режим, для которого построена спецификация.
	Mode Mode `json:"mode"`

	// Stages — стадии в порядке объявления.
	Stages []StageDef `json:"stages"`
}

// Stage возвращает определение стадии по ID.
func (s *PipelineSpec) Stage(id string) (*StageDef, bool) {
	for i := range s.Stages {
		if s.Stages[i].ID == id {
			return &s.Stages[i], true
		}
	}
	return nil, false
}

// Tools возвращает логические имена всех инструментов спецификации.
// Для каждого инструмента указано, требуется ли он хотя бы одной стадии.
func (s *PipelineSpec) Tools() map[string]bool {
	tools := make(map[string]bool)
	for _, st := range s.Stages {
		for _, name := range []string{st.Tool, st.PostTool} {
			if name == "" {
				continue
			}
			tools[name] = tools[name] || !st.Optional
		}
	}
	return tools
}

// StageDef — определение стадии pipeline.
//
// Все поля-шаблоны рендерятся engine.Render с контекстом run.
type StageDef struct {
	// ID — уникальный идентификатор стадии, он же имя директории.
	ID string `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Tool — логическое имя инструмента ("rnafold", "rosetta", ...).
	Tool string `json:"tool"`

	// PostTool — инструмент, запускаемый локально после каждой успешной ветки
	// (например, извлечение PDB из silent файла).
	PostTool string `json:"post_tool,omitempty"`

	// Optional — стадия может быть заменена placeholder.
	Optional bool `json:"optional,omitempty"`

	// Execution — local или batch.
	Execution Execution `json:"execution"`

	// DependsOn — ID стадий, которые должны завершиться раньше.
	DependsOn []string `json:"depends_on,omitempty"`

	// Input — шаблон пути объявленного входного артефакта.
	// Стадия не стартует, пока артефакт не появится.
	Input string `json:"input,omitempty"`

	// Consumes — upstream артефакты, которые должны быть корректны.
	Consumes []string `json:"consumes,omitempty"`

	// Command — шаблон командной строки.
	Command string `json:"command"`

	// PostCommand — шаблон командной строки PostTool.
	PostCommand string `json:"post_command,omitempty"`

	// Stdin — шаблон данных для stdin (только local).
	Stdin string `json:"stdin,omitempty"`

	// Output — имя выходного артефакта в директории стадии или ветки.
	Output string `json:"output"`

	// CaptureStdout — stdout инструмента записывается в Output.
	CaptureStdout bool `json:"capture_stdout,omitempty"`

	// FanOut — число независимых веток. 0 или 1 — одиночная стадия.
	FanOut int `json:"fan_out,omitempty"`

	// FanOutFrom — ID стадии, чьи артефакты становятся входами веток.
	// Число веток ограничено FanOutLimit.
	FanOutFrom string `json:"fan_out_from,omitempty"`

	// FanOutLimit — максимум веток при FanOutFrom.
	FanOutLimit int `json:"fan_out_limit,omitempty"`

	// Sweep — наборы параметров инструмента: одна ветка на набор,
	// имя ветки — имя набора.
	Sweep []ParamSet `json:"sweep,omitempty"`

	// VariantsFrom — стадия со Sweep. Ветки FanOut повторяются для каждого
	// её варианта и получают ограничение этого варианта.
	VariantsFrom string `json:"variants_from,omitempty"`

	// MinArtifacts — минимум не упавших веток после агрегации (default 1).
	MinArtifacts int `json:"min_artifacts,omitempty"`

	// Collect — glob-шаблон артефактов ветки для агрегатора.
	Collect string `json:"collect,omitempty"`

	// Ranks — стадия ранжирует артефакты стадии RankSource.
	// Пропускается, если их больше потолка batch.
	Ranks string `json:"ranks,omitempty"`

	// Placeholder — формат placeholder для optional стадии.
	Placeholder ArtifactFormat `json:"placeholder,omitempty"`
}

// IsFanOut возвращает true для стадий с ветками.
func (s *StageDef) IsFanOut() bool {
	return s.FanOut > 1 || s.FanOutFrom != "" || len(s.Sweep) > 0 || s.VariantsFrom != ""
}

// ParamSet — именованный набор аргументов инструмента.
type ParamSet struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Resources — ресурсы, запрашиваемые у планировщика.
type Resources struct {
	Nodes    int           `json:"nodes,omitempty"`
	Threads  int           `json:"threads,omitempty"`
	Memory   string        `json:"memory,omitempty"`
	WallTime time.Duration `json:"wall_time,omitempty"`
	GPUs     int           `json:"gpus,omitempty"`
}
