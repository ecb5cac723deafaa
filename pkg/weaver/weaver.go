package weaver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/delver/pkg/agent"
	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
	"github.com/kadirpekel/delver/pkg/tools"
)

// Result is the dual-agent loop's output bundle.
type Result struct {
	Question         string  `json:"question"`
	FinalOutline     string  `json:"final_outline,omitempty"`
	FinalReport      string  `json:"final_report"`
	MemoryBankSize   int     `json:"memory_bank_size,omitempty"`
	TotalTimeSeconds float64 `json:"total_time_seconds,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// WebWeaver coordinates the planner and writer in sequence over one shared
// Memory Bank. The bank is owned by exactly one invocation: the planner
// writes it, the writer reads it, and it is discarded with the run.
type WebWeaver struct {
	provider    llms.Provider
	baseTools   []tools.Tool
	cfg         config.AgentConfig
	instruction string
}

// New creates a WebWeaver over the given base tools (the planner's
// general toolset before evidence wrapping).
func New(provider llms.Provider, baseTools []tools.Tool, cfg config.AgentConfig, instruction string) *WebWeaver {
	return &WebWeaver{
		provider:    provider,
		baseTools:   baseTools,
		cfg:         cfg,
		instruction: instruction,
	}
}

// Run executes the complete dual-agent workflow: planner fills the memory
// bank and produces the outline, then the writer composes the report.
// Each phase gets its own wall-clock budget.
func (w *WebWeaver) Run(ctx context.Context, question string, progress agent.EventCallback) *Result {
	startTime := time.Now()
	phaseTimeout := time.Duration(w.cfg.AgentTimeout) * time.Second

	bank := NewMemoryBank()

	// Planner tools parse results into citation-keyed evidence chunks.
	plannerTools := newPlannerToolMap(w.baseTools, bank)
	plannerDispatcher := agent.NewDispatcher(plannerTools)
	planner := NewPlanner(w.provider, plannerDispatcher, bank, w.cfg, w.instruction)

	plannerCtx, cancelPlanner := context.WithTimeout(ctx, phaseTimeout)
	finalOutline := planner.Run(plannerCtx, question, progress)
	cancelPlanner()

	slog.Debug("Planner phase complete", "memory_bank_size", bank.Size())
	if plannerCtx.Err() == context.DeadlineExceeded {
		slog.Warn("Planner phase hit its deadline; proceeding with current outline")
	}
	if bank.Size() == 0 && finalOutline == initialOutline {
		return &Result{
			Question: question,
			Error:    "Planner phase error: no outline or evidence produced",
		}
	}

	writerDispatcher := agent.NewDispatcher(newWriterToolMap(bank))
	writer := NewWriter(w.provider, writerDispatcher, bank, w.cfg, w.instruction)

	writerCtx, cancelWriter := context.WithTimeout(ctx, phaseTimeout)
	finalReport := writer.Run(writerCtx, question, finalOutline, progress)
	cancelWriter()

	slog.Debug("Writer phase complete")

	return &Result{
		Question:         question,
		FinalOutline:     finalOutline,
		FinalReport:      finalReport,
		MemoryBankSize:   bank.Size(),
		TotalTimeSeconds: time.Since(startTime).Seconds(),
	}
}

// Answer returns the user-facing answer of a result: the report, or the
// error when a phase failed.
func (r *Result) Answer() string {
	if r.Error != "" {
		return fmt.Sprintf("Research failed: %s", r.Error)
	}
	return r.FinalReport
}
