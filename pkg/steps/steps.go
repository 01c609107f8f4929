// Package steps is the catalogue of staging-table transformations and the
// per-version order they run in.
package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// State is the scratch context of one import, owned by the orchestrator and
// handed to every step.
type State struct {
	Version  format.Version
	Dir      string
	TopLevel string
	Offsets  common.Offsets
	CorpusID int64
	Nodes    int64
}

// Step is one named transformation of staging state. Steps never touch the
// target schema.
type Step struct {
	Name string
	Run  func(ctx context.Context, conn store.Conn, st *State, tok statement.Token) error
}

var (
	ApplyConstraints        = Step{Name: "apply_constraints", Run: applyConstraints}
	CreateIndexes           = Step{Name: "create_staging_indexes", Run: createIndexes}
	AnalyzeStaging          = Step{Name: "analyze_staging", Run: analyzeStaging}
	AddDocumentNameMetadata = Step{Name: "add_document_name_metadata", Run: addDocumentNameMetadata}
	ComputeTopLevelCorpus   = Step{Name: "compute_toplevel_corpus", Run: computeTopLevelCorpus}
	AdjustRankPrePost       = Step{Name: "adjust_rank_prepost", Run: adjustRankPrePost}
	ComputeTokenBoundaries  = Step{Name: "compute_left_right_token", Run: computeTokenBoundaries}
	SetContinuous           = Step{Name: "set_continuous", Run: setContinuous}
	UniqueNodeNames         = Step{Name: "unique_node_name_appendix", Run: uniqueNodeNames}
	AdjustTextID            = Step{Name: "adjust_text_id", Run: adjustTextID}
	ComputeRealRoot         = Step{Name: "compute_real_root", Run: computeRealRoot}
	ComputeLevel            = Step{Name: "compute_level", Run: computeLevel}
	SpanFromSegmentation    = Step{Name: "span_from_segmentation", Run: spanFromSegmentation}
)

// Sequence returns the fixed step order for a format version.
func Sequence(v format.Version) ([]Step, error) {
	switch v {
	case format.RelANNIS33:
		return []Step{
			ApplyConstraints,
			CreateIndexes,
			AnalyzeStaging,
			AddDocumentNameMetadata,
		}, nil
	case format.RelANNIS31, format.RelANNIS32:
		return []Step{
			ComputeTopLevelCorpus,
			CreateIndexes,
			AnalyzeStaging,
			AdjustRankPrePost,
			ComputeTokenBoundaries,
			SetContinuous,
			UniqueNodeNames,
			AdjustTextID,
			AddDocumentNameMetadata,
			ComputeRealRoot,
			ComputeLevel,
			SpanFromSegmentation,
			ApplyConstraints,
			AnalyzeStaging,
		}, nil
	default:
		return nil, &common.FormatError{Reason: "no step sequence for version " + v.String()}
	}
}

// Execute runs steps in order under the controller. Cancellation is checked
// before every step and between the statements of multi-statement steps.
func Execute(ctx context.Context, conn store.Conn, ctrl *statement.Controller, st *State, seq []Step) error {
	for _, s := range seq {
		start := time.Now()
		err := ctrl.Run(ctx, s.Name, func(ctx context.Context) error {
			return s.Run(ctx, conn, st, ctrl)
		})
		if err != nil {
			logger.Error("[Steps] Step failed", "step", s.Name, "err", err)
			return common.DBError(s.Name, err)
		}
		logger.Debug("[Steps] Step finished", "step", s.Name, "duration", time.Since(start))
	}
	return nil
}

func execAll(ctx context.Context, conn store.Conn, tok statement.Token, name string, stmts ...string) error {
	for _, sql := range stmts {
		if err := tok.Check(name); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute %s: %w", name, err)
		}
	}
	return nil
}
