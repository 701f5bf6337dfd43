package engine

import (
	"fmt"

	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
)

// ID стадий встроенных pipeline.
const (
	StageSecondary = "secondary"
	StageQuick3D   = "quick3d"
	StageModels    = "models"
	StageRank      = "rank"
	StageRefine    = "refine"
)

// Ключи Inputs, которые заполняет orchestrator.
const (
	InputSequence     = "sequence"
	InputSequenceID   = "sequence_id"
	InputFasta        = "fasta"
	InputConstraint   = "constraint"
	InputModelsPerJob = "models_per_job"
	InputModels       = "models"
)

// Командные строки по умолчанию. Переопределяются TOOL_<NAME>_COMMAND.
const (
	// RNAfold читает последовательность из stdin и печатает
	// последовательность и структуру с энергией. Branch.Args — набор
	// параметров варианта.
	defaultSecondaryCommand = `{{ quote .Tool.Path }} --noPS{{ args .Tool.Args }}{{ args .Branch.Args }}`

	defaultQuick3DCommand = `{{ quote .Tool.Path }}{{ args .Tool.Args }} --fasta {{ quote .Inputs.fasta }}` +
		` --secstruct {{ quote .Inputs.constraint }} --out {{ quote .Stage.Output }}`

	// rna_denovo, одна ветка — nstruct моделей с собственным seed.
	defaultModelsCommand = `{{ quote .Tool.Path }}{{ args .Tool.Args }} -fasta {{ quote .Inputs.fasta }}` +
		` -secstruct_file {{ quote .Inputs.constraint }} -nstruct {{ .Inputs.models_per_job }}` +
		` -constant_seed -jran {{ .Branch.Seed }} -out:file:silent {{ quote .Branch.Output }}`

	// extract_pdbs пишет <tag>.pdb в рабочую директорию ветки.
	defaultExtractCommand = `{{ quote .Post.Path }}{{ args .Post.Args }} -in:file:silent {{ quote .Branch.Output }}` +
		` -in:file:silent_struct_type rna`

	// Ранжирование печатает строки "<path> <score>".
	defaultRankCommand = `{{ quote .Tool.Path }}{{ args .Tool.Args }}{{ range .Inputs.models }} {{ quote . }}{{ end }}`

	defaultRefineCommand = `{{ quote .Tool.Path }}{{ args .Tool.Args }} -s {{ quote .Branch.Input }}` +
		` -out:file:o {{ quote .Branch.Output }}`
)

// BuildSpec строит PipelineSpec режима из конфигурации.
//
// С TOOL_RNAFOLD_VARIANTS стадия secondary запускается по ветке на вариант,
// а ветки моделирования повторяются для каждого варианта.
func BuildSpec(mode domain.Mode, cfg *config.Config) (*domain.PipelineSpec, error) {
	variants, err := cfg.Tools.SecondaryVariants()
	if err != nil {
		return nil, err
	}

	secondary := domain.StageDef{
		ID:            StageSecondary,
		Name:          "secondary structure",
		Tool:          config.ToolRNAfold,
		Execution:     domain.ExecutionLocal,
		Input:         `{{ .Inputs.fasta }}`,
		Command:       commandOr(cfg.Tools.RNAfold.Command, defaultSecondaryCommand),
		Stdin:         ">{{ .Inputs.sequence_id }}\n{{ .Inputs.sequence }}\n",
		Output:        "rnafold.out",
		CaptureStdout: true,
		Sweep:         variants,
	}

	// Вход потребителей вторичной структуры.
	constraintSource := `{{ .Stages.secondary.Output }}`
	var variantsFrom string
	if len(variants) > 0 {
		constraintSource = `{{ .Stages.secondary.Manifest }}`
		variantsFrom = StageSecondary
	}

	var spec *domain.PipelineSpec
	switch mode {
	case domain.ModeFast:
		spec = &domain.PipelineSpec{
			Mode: mode,
			Stages: []domain.StageDef{
				secondary,
				{
					ID:          StageQuick3D,
					Name:        "single-shot 3D prediction",
					Tool:        config.ToolPredict,
					Optional:    true,
					Execution:   domain.ExecutionLocal,
					DependsOn:   []string{StageSecondary},
					Input:       constraintSource,
					Consumes:    []string{domain.ConsumesConstraint},
					Command:     commandOr(cfg.Tools.Predict.Command, defaultQuick3DCommand),
					Output:      "model.pdb",
					Placeholder: domain.FormatPDB,
				},
			},
		}

	case domain.ModeAccurate:
		spec = &domain.PipelineSpec{
			Mode: mode,
			Stages: []domain.StageDef{
				secondary,
				{
					ID:           StageModels,
					Name:         "3D modelling",
					Tool:         config.ToolRosetta,
					PostTool:     config.ToolExtract,
					Execution:    domain.ExecutionBatch,
					DependsOn:    []string{StageSecondary},
					Input:        constraintSource,
					Consumes:     []string{domain.ConsumesConstraint},
					Command:      commandOr(cfg.Tools.Rosetta.Command, defaultModelsCommand),
					PostCommand:  commandOr(cfg.Tools.Extract.Command, defaultExtractCommand),
					Output:       "models.out",
					FanOut:       cfg.Pipeline.FanOut,
					VariantsFrom: variantsFrom,
					Collect:      "*.pdb",
					MinArtifacts: cfg.Pipeline.MinModels,
				},
				{
					ID:            StageRank,
					Name:          "model ranking",
					Tool:          config.ToolRank,
					Optional:      true,
					Execution:     domain.ExecutionLocal,
					DependsOn:     []string{StageModels},
					Input:         `{{ .Stages.models.Manifest }}`,
					Command:       commandOr(cfg.Tools.Rank.Command, defaultRankCommand),
					Output:        "ranking.txt",
					CaptureStdout: true,
					Ranks:         StageModels,
					Placeholder:   domain.FormatRanking,
				},
				{
					ID:          StageRefine,
					Name:        "refinement",
					Tool:        config.ToolRefine,
					Optional:    true,
					Execution:   domain.ExecutionBatch,
					DependsOn:   []string{StageModels, StageRank},
					Input:       `{{ .Stages.models.Manifest }}`,
					Command:     commandOr(cfg.Tools.Refine.Command, defaultRefineCommand),
					Output:      "refined.pdb",
					FanOutFrom:  StageModels,
					FanOutLimit: cfg.Pipeline.RefineTop,
					Collect:     "refined.pdb",
					Placeholder: domain.FormatPDB,
				},
			},
		}

	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	if err := Validate(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func commandOr(override, def string) string {
	if override != "" {
		return override
	}
	return def
}
