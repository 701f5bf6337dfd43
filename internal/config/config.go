package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/shaiso/Foldflow/internal/domain"
)

// Логические имена инструментов.
const (
	ToolRNAfold = "rnafold"
	ToolRosetta = "rosetta"
	ToolExtract = "extract"
	ToolPredict = "predict"
	ToolRank    = "rank"
	ToolRefine  = "refine"
)

// Backend'ы JobSubmitter'а.
const (
	SubmitterLocal = "local"
	SubmitterSlurm = "slurm"
	SubmitterQueue = "queue"
)

// EnvPrefix — префикс переменных окружения, переопределяющих файл.
const EnvPrefix = "FOLDFLOW_"

// Tool — конфигурация одного внешнего инструмента.
type Tool struct {
	// Path — абсолютный путь к исполняемому файлу. Без значения по умолчанию.
	Path string `env:"PATH"`

	Threads  int           `env:"THREADS, default=1"`
	Memory   string        `env:"MEMORY, default=4G"`
	WallTime time.Duration `env:"WALLTIME, default=2h"`
	GPUs     int           `env:"GPUS, default=0"`

	// LibraryPath — директории разделяемых библиотек (через ':').
	// Каждая должна существовать.
	LibraryPath string `env:"LIBRARY_PATH"`

	// Env — дополнительное окружение процесса: KEY=VALUE через ';'.
	Env []string `env:"ENV, delimiter=;"`

	// Args — дополнительные аргументы командной строки.
	Args string `env:"ARGS"`

	// Command — переопределение шаблона команды стадии.
	Command string `env:"COMMAND"`
}

// Tools — все инструменты pipeline.
type Tools struct {
	RNAfold Tool `env:", prefix=RNAFOLD_"`
	Rosetta Tool `env:", prefix=ROSETTA_"`
	Extract Tool `env:", prefix=EXTRACT_"`
	Predict Tool `env:", prefix=PREDICT_"`
	Rank    Tool `env:", prefix=RANK_"`
	Refine  Tool `env:", prefix=REFINE_"`

	// RNAfoldVariants — наборы параметров RNAfold через ';':
	// "default;t25=-T 25;nogu=--noGU". Пусто — один запуск без набора.
	RNAfoldVariants []string `env:"RNAFOLD_VARIANTS, delimiter=;"`
}

// SecondaryVariants разбирает TOOL_RNAFOLD_VARIANTS в наборы параметров
// в порядке объявления.
func (t *Tools) SecondaryVariants() ([]domain.ParamSet, error) {
	var sets []domain.ParamSet
	seen := make(map[string]bool)
	for _, item := range t.RNAfoldVariants {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, args, _ := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !variantName.MatchString(name) {
			return nil, &domain.ConfigurationError{Key: "TOOL_RNAFOLD_VARIANTS", Message: fmt.Sprintf("invalid variant name %q", name)}
		}
		if seen[name] {
			return nil, &domain.ConfigurationError{Key: "TOOL_RNAFOLD_VARIANTS", Message: fmt.Sprintf("duplicate variant %q", name)}
		}
		seen[name] = true
		sets = append(sets, domain.ParamSet{Name: name, Args: strings.Fields(args)})
	}
	return sets, nil
}

// variantName — имя варианта, оно же имя директории ветки.
var variantName = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// ByName возвращает конфигурацию инструмента по логическому имени.
func (t *Tools) ByName(name string) (*Tool, bool) {
	switch name {
	case ToolRNAfold:
		return &t.RNAfold, true
	case ToolRosetta:
		return &t.Rosetta, true
	case ToolExtract:
		return &t.Extract, true
	case ToolPredict:
		return &t.Predict, true
	case ToolRank:
		return &t.Rank, true
	case ToolRefine:
		return &t.Refine, true
	default:
		return nil, false
	}
}

// Pipeline — параметры выполнения pipeline.
type Pipeline struct {
	WorkDir string `env:"WORK_DIR, default=runs"`

	// FanOut — число веток моделирования.
	FanOut    int `env:"FANOUT, default=5"`
	MaxFanOut int `env:"MAX_FANOUT, default=64"`

	// MinModels — минимум артефактов после агрегации.
	MinModels int `env:"MIN_MODELS, default=1"`

	// ModelsPerJob — число структур на одну ветку (-nstruct).
	ModelsPerJob int `env:"MODELS_PER_JOB, default=10"`

	// Seed — базовый seed; ветка i получает Seed+i.
	Seed int64 `env:"SEED, default=1"`

	// RankBatchCeiling — максимум моделей, которые передаются ранжированию.
	RankBatchCeiling int `env:"RANK_BATCH_CEILING, default=50"`

	// RefineTop — число лучших моделей для уточнения.
	RefineTop int `env:"REFINE_TOP, default=3"`

	GateTimeout  time.Duration `env:"GATE_TIMEOUT, default=5m"`
	GateInterval time.Duration `env:"GATE_INTERVAL, default=2s"`
	JobTimeout   time.Duration `env:"JOB_TIMEOUT, default=48h"`
	PollInterval time.Duration `env:"POLL_INTERVAL, default=30s"`

	// Submitter — backend batch стадий: local, slurm, queue.
	Submitter string `env:"SUBMITTER, default=local"`

	// BasePath — PATH процессов инструментов.
	BasePath string `env:"BASE_PATH, default=/usr/local/bin:/usr/bin:/bin"`
}

// Slurm — параметры backend'а slurm.
type Slurm struct {
	Partition string `env:"PARTITION"`
	Account   string `env:"ACCOUNT"`
	QOS       string `env:"QOS"`
	Exclude   string `env:"EXCLUDE"`
	Nodes     int    `env:"NODES, default=1"`
	Sbatch    string `env:"SBATCH, default=sbatch"`
	Squeue    string `env:"SQUEUE, default=squeue"`
	Sacct     string `env:"SACCT, default=sacct"`

	// AssumeDoneWhenAbsent — без sacct считать job, пропавший из squeue,
	// завершённым. Успех проверяется по артефактам стадии.
	AssumeDoneWhenAbsent bool `env:"ASSUME_DONE_WHEN_ABSENT, default=false"`
}

// Queue — параметры backend'а queue.
type Queue struct {
	DBURL   string `env:"DB_URL"`
	AMQPURL string `env:"AMQP_URL"`
}

// Log — параметры логирования.
type Log struct {
	Level  string `env:"LEVEL, default=INFO"`
	Format string `env:"FORMAT, default=text"`
}

// Worker — параметры foldflow-worker.
type Worker struct {
	// ID — идентификатор воркера (пусто — hostname и случайный суффикс).
	ID string `env:"ID"`

	// Addr — адрес HTTP для /healthz и /metrics.
	Addr string `env:"ADDR, default=:8082"`

	BatchSize   int           `env:"BATCH_SIZE, default=10"`
	MaxWallTime time.Duration `env:"MAX_WALLTIME, default=48h"`
}

// Config — полная конфигурация Foldflow.
type Config struct {
	Tools    Tools    `env:", prefix=TOOL_"`
	Pipeline Pipeline `env:", prefix=PIPELINE_"`
	Slurm    Slurm    `env:", prefix=SLURM_"`
	Queue    Queue    `env:", prefix=QUEUE_"`
	Log      Log      `env:", prefix=LOG_"`
	Worker   Worker   `env:", prefix=WORKER_"`

	// Source — путь файла, из которого загружена конфигурация.
	Source string
}

// Load читает плоский key-value файл и декодирует его в Config.
//
// overrides (может быть nil) имеет приоритет над файлом. Окружение процесса
// само по себе не читается: CLI передаёт его явно через EnvOverrides.
func Load(ctx context.Context, path string, overrides envconfig.Lookuper) (*Config, error) {
	values := map[string]string{}
	if path != "" {
		var err error
		values, err = godotenv.Read(path)
		if err != nil {
			return nil, &domain.ConfigurationError{Key: path, Message: fmt.Sprintf("read config file: %v", err)}
		}
	}
	cfg, err := Decode(ctx, values, overrides)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Decode декодирует набор key-value в Config и проверяет параметры.
func Decode(ctx context.Context, values map[string]string, overrides envconfig.Lookuper) (*Config, error) {
	var lookuper envconfig.Lookuper = envconfig.MapLookuper(values)
	if overrides != nil {
		lookuper = envconfig.MultiLookuper(overrides, lookuper)
	}

	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, &domain.ConfigurationError{Message: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnvOverrides возвращает lookuper переменных FOLDFLOW_* окружения процесса.
func EnvOverrides() envconfig.Lookuper {
	return envconfig.PrefixLookuper(EnvPrefix, envconfig.OsLookuper())
}

// Validate проверяет параметры pipeline.
func (c *Config) Validate() error {
	p := c.Pipeline
	checks := []struct {
		ok  bool
		key string
		msg string
	}{
		{p.FanOut >= 1, "PIPELINE_FANOUT", "must be at least 1"},
		{p.FanOut <= p.MaxFanOut, "PIPELINE_FANOUT", fmt.Sprintf("must not exceed PIPELINE_MAX_FANOUT (%d)", p.MaxFanOut)},
		{p.MinModels >= 1, "PIPELINE_MIN_MODELS", "must be at least 1"},
		{p.ModelsPerJob >= 1, "PIPELINE_MODELS_PER_JOB", "must be at least 1"},
		{p.RankBatchCeiling >= 1, "PIPELINE_RANK_BATCH_CEILING", "must be at least 1"},
		{p.RefineTop >= 1, "PIPELINE_REFINE_TOP", "must be at least 1"},
		{p.GateTimeout > 0, "PIPELINE_GATE_TIMEOUT", "must be positive"},
		{p.GateInterval > 0, "PIPELINE_GATE_INTERVAL", "must be positive"},
		{p.JobTimeout > 0, "PIPELINE_JOB_TIMEOUT", "must be positive"},
		{p.PollInterval > 0, "PIPELINE_POLL_INTERVAL", "must be positive"},
		{strings.TrimSpace(p.WorkDir) != "", "PIPELINE_WORK_DIR", "must not be empty"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return &domain.ConfigurationError{Key: ch.key, Message: ch.msg}
		}
	}

	variants, err := c.Tools.SecondaryVariants()
	if err != nil {
		return err
	}
	if n := len(variants) * p.FanOut; n > p.MaxFanOut {
		return &domain.ConfigurationError{
			Key:     "TOOL_RNAFOLD_VARIANTS",
			Message: fmt.Sprintf("%d variants x %d branches exceed PIPELINE_MAX_FANOUT (%d)", len(variants), p.FanOut, p.MaxFanOut),
		}
	}

	switch p.Submitter {
	case SubmitterLocal, SubmitterSlurm:
	case SubmitterQueue:
		if c.Queue.DBURL == "" {
			return &domain.ConfigurationError{Key: "QUEUE_DB_URL", Message: "required for queue submitter"}
		}
	default:
		return &domain.ConfigurationError{Key: "PIPELINE_SUBMITTER", Message: fmt.Sprintf("unknown submitter %q", p.Submitter)}
	}
	return nil
}

// fileExists — вспомогательная проверка для резолвера.
func fileExists(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	return info, true
}
