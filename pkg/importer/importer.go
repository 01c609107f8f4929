// Package importer runs the relANNIS import pipeline: one transaction per
// corpus that stages, transforms, renumbers and publishes the corpus, or
// leaves the target schema untouched.
package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/corpus"
	"github.com/OFFIS-RIT/relannis/pkg/corpusconfig"
	"github.com/OFFIS-RIT/relannis/pkg/extdata"
	"github.com/OFFIS-RIT/relannis/pkg/facts"
	"github.com/OFFIS-RIT/relannis/pkg/format"
	"github.com/OFFIS-RIT/relannis/pkg/leaselock"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/offsets"
	"github.com/OFFIS-RIT/relannis/pkg/staging"
	"github.com/OFFIS-RIT/relannis/pkg/statement"
	"github.com/OFFIS-RIT/relannis/pkg/steps"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

type Options struct {
	// TemporaryStaging drops staging tables with the transaction. When false
	// they are UNLOGGED and kept after a successful import.
	TemporaryStaging      bool
	StatisticsTarget      int
	DistinctTokenOverride bool
	ExampleQueries        ExampleQueries
	Lock                  leaselock.Options
}

type Request struct {
	Path      string
	Overwrite bool
	Alias     string
}

type Result struct {
	CorpusID   int64
	Name       string
	Version    format.Version
	Nodes      int64
	MediaFiles int
	Duration   time.Duration
}

// Pipeline imports and deletes corpora. Calls are serialized.
type Pipeline struct {
	db     store.DB
	locker leaselock.Locker
	media  *extdata.Importer
	ctrl   *statement.Controller
	gen    ExampleQueryGenerator
	opts   Options
	mu     sync.Mutex
}

func New(db store.DB, locker leaselock.Locker, media *extdata.Importer, opts Options) *Pipeline {
	if opts.StatisticsTarget <= 0 {
		opts.StatisticsTarget = facts.DefaultStatisticsTarget
	}
	return &Pipeline{
		db:     db,
		locker: locker,
		media:  media,
		ctrl:   statement.New(),
		opts:   opts,
	}
}

// SetGenerator installs the collaborator that derives example queries.
func (p *Pipeline) SetGenerator(gen ExampleQueryGenerator) {
	p.gen = gen
}

// Cancel interrupts the running import. The import fails with a
// CancelledError and its transaction is rolled back.
func (p *Pipeline) Cancel() {
	p.ctrl.Cancel()
}

// Import imports the relANNIS directory req.Path.
func (p *Pipeline) Import(ctx context.Context, req Request) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctrl.Reset()

	start := time.Now()
	dir, err := filepath.Abs(req.Path)
	if err != nil {
		return Result{}, &common.FileAccessError{Path: req.Path, Err: err}
	}

	v, err := format.Detect(dir)
	if err != nil {
		return Result{}, err
	}
	if v == format.Unknown {
		return Result{}, &common.FormatError{Path: dir, Reason: "not a relANNIS 3.1, 3.2 or 3.3 directory"}
	}
	seq, err := steps.Sequence(v)
	if err != nil {
		return Result{}, err
	}
	generate := p.opts.ExampleQueries.Resolve(dir, v)

	importID, err := gonanoid.New()
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate import id: %w", err)
	}
	logger.Info("[Import] Starting import", "path", dir, "version", v, "overwrite", req.Overwrite, "import_id", importID)

	var res Result
	err = p.locker.WithLease(ctx, leaselock.ImportKey, p.opts.Lock, func(ctx context.Context) error {
		var err error
		res, err = p.run(ctx, &run{req: req, dir: dir, version: v, seq: seq, importID: importID, generate: generate})
		return err
	})
	if err != nil {
		logger.Error("[Import] Import failed", "path", dir, "code", common.Classify(err), "err", err)
		return Result{}, err
	}

	res.Duration = time.Since(start)
	logger.Info("[Import] Finished import", "corpus", res.Name, "id", res.CorpusID, "nodes", res.Nodes,
		"media_files", res.MediaFiles, "duration", res.Duration)
	return res, nil
}

// run is the state of one import attempt.
type run struct {
	req      Request
	dir      string
	version  format.Version
	seq      []steps.Step
	importID string
	generate bool

	batch   *extdata.Batch
	removed []string
}

func (p *Pipeline) run(ctx context.Context, r *run) (Result, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return Result{}, common.DBError("begin import transaction", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		rbCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Error("[Import] Rollback failed", "err", err)
		}
		r.batch.Abort(rbCtx)
	}()

	res, err := p.load(ctx, tx, r)
	if err != nil {
		return Result{}, err
	}

	if err := p.ctrl.Check("commit"); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, common.DBError("commit import", err)
	}
	committed = true

	post := context.WithoutCancel(ctx)
	r.batch.Commit(post)
	if len(r.removed) > 0 && p.media != nil {
		extdata.Remove(post, p.media.Store, r.batch.Superseded(r.removed))
	}
	if r.generate {
		p.generateExamples(post, res)
	}
	return res, nil
}

// load does everything up to the commit inside tx.
func (p *Pipeline) load(ctx context.Context, tx store.Tx, r *run) (Result, error) {
	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout TO 0"); err != nil {
		return Result{}, common.DBError("disable statement timeout", err)
	}

	mgr := staging.New(tx, r.version, p.opts.TemporaryStaging)
	mgr.Track(offsets.MappingTable)
	if err := p.step(ctx, "create_staging_area", func(ctx context.Context) error {
		return mgr.Create(ctx, p.ctrl)
	}); err != nil {
		return Result{}, err
	}
	if err := p.step(ctx, "bulk_load", func(ctx context.Context) error {
		n, err := mgr.LoadAll(ctx, r.dir, p.ctrl)
		logger.Debug("[Import] Bulk loaded staging area", "rows", n)
		return err
	}); err != nil {
		return Result{}, err
	}

	name, err := corpus.StagedTopLevelName(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	if err := p.step(ctx, "check_toplevel_corpus", func(ctx context.Context) error {
		if !r.req.Overwrite {
			return corpus.Check(ctx, tx, name)
		}
		keys, err := corpus.CheckAndRemove(ctx, tx, p.ctrl, name)
		r.removed = keys
		return err
	}); err != nil {
		return Result{}, err
	}

	st := &steps.State{Version: r.version, Dir: r.dir, TopLevel: name}
	if err := steps.Execute(ctx, tx, p.ctrl, st, r.seq); err != nil {
		return Result{}, err
	}

	if err := p.step(ctx, "update_ids", func(ctx context.Context) error {
		off, err := offsets.Calculate(ctx, tx)
		if err != nil {
			return err
		}
		id, err := offsets.NewTopLevelCorpusID(ctx, tx, off)
		if err != nil {
			return err
		}
		nodes, err := offsets.CreateNodeIDMapping(ctx, tx, mgr, off)
		if err != nil {
			return err
		}
		st.Offsets, st.CorpusID, st.Nodes = off, id, nodes
		return nil
	}); err != nil {
		return Result{}, err
	}

	if p.media != nil {
		if err := p.step(ctx, "import_binary_data", func(ctx context.Context) error {
			batch, err := p.media.Import(ctx, tx, p.ctrl, r.importID, r.dir, name, st.CorpusID)
			r.batch = batch
			return err
		}); err != nil {
			return Result{}, err
		}
	}

	if err := p.step(ctx, "import_side_tables", func(ctx context.Context) error {
		if _, err := importResolverMap(ctx, tx, r.dir, r.version, name); err != nil {
			return err
		}
		_, err := importExampleQueries(ctx, tx, r.dir, r.version, st.CorpusID)
		return err
	}); err != nil {
		return Result{}, err
	}

	var counts offsets.Counts
	if err := p.step(ctx, "insert_corpus", func(ctx context.Context) error {
		var err error
		counts, err = offsets.CopyToTarget(ctx, tx, p.ctrl, r.version, st.CorpusID, st.Offsets)
		if err != nil {
			return err
		}
		return offsets.RecordStatistics(ctx, tx, name, st.CorpusID, st.Offsets, r.dir)
	}); err != nil {
		return Result{}, err
	}

	if err := p.step(ctx, "create_facts", func(ctx context.Context) error {
		_, err := facts.Build(ctx, tx, p.ctrl, st.CorpusID, facts.Options{
			StatisticsTarget:      p.opts.StatisticsTarget,
			DistinctTokenOverride: p.opts.DistinctTokenOverride,
		})
		return err
	}); err != nil {
		return Result{}, err
	}

	if err := p.step(ctx, "corpus_configuration", func(ctx context.Context) error {
		if _, err := corpusconfig.EnsureDefault(ctx, tx, name); err != nil {
			return err
		}
		if _, err := corpusconfig.AnalyzeTexts(ctx, tx, name, st.CorpusID); err != nil {
			return err
		}
		return addAlias(ctx, tx, r.req.Alias, name)
	}); err != nil {
		return Result{}, err
	}

	if err := mgr.Drop(ctx); err != nil {
		return Result{}, err
	}

	res := Result{
		CorpusID: st.CorpusID,
		Name:     name,
		Version:  r.version,
		Nodes:    counts.Nodes,
	}
	if r.batch != nil {
		res.MediaFiles = len(r.batch.Files)
	}
	return res, nil
}

// step runs fn as a registered operation of the statement controller.
func (p *Pipeline) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if err := p.ctrl.Run(ctx, name, fn); err != nil {
		return err
	}
	logger.Debug("[Import] Step finished", "step", name, "duration", time.Since(start))
	return nil
}

func (p *Pipeline) generateExamples(ctx context.Context, res Result) {
	if p.gen == nil {
		logger.Debug("[Import] No example query generator configured", "corpus", res.Name)
		return
	}
	if err := p.gen.Generate(ctx, res.CorpusID, res.Name); err != nil {
		logger.Warn("[Import] Example query generation failed", "corpus", res.Name, "err", err)
	}
}

// Delete removes the named top-level corpora in one transaction. Their media
// objects are removed after the commit.
func (p *Pipeline) Delete(ctx context.Context, names []string) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctrl.Reset()

	var deleted []int64
	err := p.locker.WithLease(ctx, leaselock.ImportKey, p.opts.Lock, func(ctx context.Context) error {
		tx, err := p.db.Begin(ctx)
		if err != nil {
			return common.DBError("begin delete transaction", err)
		}
		defer func() {
			if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				logger.Error("[Import] Rollback failed", "err", err)
			}
		}()

		var keys []string
		for _, name := range names {
			ids, err := corpus.FindTopLevel(ctx, tx, name)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("%w: %s", corpus.ErrNotFound, name)
			}
			err = p.step(ctx, "delete_corpus", func(ctx context.Context) error {
				k, err := corpus.Delete(ctx, tx, p.ctrl, ids)
				keys = append(keys, k...)
				return err
			})
			if err != nil {
				return err
			}
			if err := corpusconfig.Remove(ctx, tx, name); err != nil {
				return err
			}
			deleted = append(deleted, ids...)
		}

		if err := tx.Commit(ctx); err != nil {
			return common.DBError("commit delete", err)
		}
		if p.media != nil {
			extdata.Remove(context.WithoutCancel(ctx), p.media.Store, keys)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("[Import] Deleted corpora", "names", names, "ids", deleted)
	return deleted, nil
}
