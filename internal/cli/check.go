package cli

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/engine"
	"github.com/shaiso/Foldflow/internal/orchestrator"
)

// ToolStatus — строка отчёта check.
type ToolStatus struct {
	Tool      string `json:"tool"`
	Required  bool   `json:"required"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewCheckCmd создаёт команду check: pre-flight проверка инструментов режима.
func NewCheckCmd(app *App) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and tools for a mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := app.output()

			m, err := domain.ParseMode(mode)
			if err != nil {
				return &ExitError{Code: orchestrator.ExitFatal, Err: &domain.ConfigurationError{Key: "mode", Message: err.Error()}}
			}

			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			statuses, err := CheckTools(cfg, m)
			if err != nil {
				return &ExitError{Code: orchestrator.ExitFatal, Err: err}
			}

			rows := make([][]string, len(statuses))
			for i, s := range statuses {
				rows[i] = []string{s.Tool, strconv.FormatBool(s.Required), strconv.FormatBool(s.Available), s.Path, s.Reason}
			}
			out.Print([]string{"TOOL", "REQUIRED", "AVAILABLE", "PATH", "REASON"}, rows, statuses)
			out.Success("Configuration OK for mode " + m.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeAccurate), "Pipeline mode (fast, accurate)")
	return cmd
}

// CheckTools резолвит инструменты режима.
// Возвращает ConfigurationError, если недоступен обязательный инструмент.
func CheckTools(cfg *config.Config, mode domain.Mode) ([]ToolStatus, error) {
	spec, err := engine.BuildSpec(mode, cfg)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: "mode", Message: err.Error()}
	}
	tools, err := config.Resolve(cfg, spec)
	if err != nil {
		return nil, err
	}

	required := spec.Tools()
	statuses := make([]ToolStatus, 0, len(tools))
	for name, t := range tools {
		statuses = append(statuses, ToolStatus{
			Tool:      name,
			Required:  required[name],
			Available: t.Available,
			Path:      t.Path,
			Reason:    t.Reason,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Tool < statuses[j].Tool })
	return statuses, nil
}
