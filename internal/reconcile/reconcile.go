// Package reconcile diffs the task annotations found in a document's text
// against the tasks previously derived from that document, and emits the
// minimal set of create, observe and orphan commands to close the gap.
package reconcile

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/notefold/notefold/internal/domain/task"
	"github.com/notefold/notefold/internal/projection/taskview"
	"github.com/notefold/notefold/internal/projection/treeview"
)

// Commander issues task commands against the journal. The command side of
// the engine implements it.
type Commander interface {
	CreateTask(ctx context.Context, input task.CreateInput) (string, error)
	// ObserveTask records a reparse sighting and reports whether it changed
	// the task. Unchanged sightings append nothing to the journal.
	ObserveTask(ctx context.Context, taskID string, sourceLine int, completed bool) (bool, error)
	OrphanTask(ctx context.Context, taskID string) error
}

// TaskReader reads the current derived task state for a document.
type TaskReader interface {
	ByDocument(ctx context.Context, documentID string) ([]taskview.Row, error)
}

// Ancestry resolves a node's ancestor chain, immediate parent first.
type Ancestry interface {
	AncestorChain(ctx context.Context, nodeID string) ([]treeview.Node, error)
}

// CuratedSet answers whether a category participates in curated resolution.
type CuratedSet interface {
	IsMember(ctx context.Context, categoryID string) (bool, error)
}

// Result counts the commands a reconciliation pass issued.
type Result struct {
	Created  int
	Observed int
	Orphaned int
}

// Reconciler runs document reconciliation passes. Passes for the same
// document are serialized; distinct documents proceed concurrently.
type Reconciler struct {
	commander Commander
	tasks     TaskReader
	tree      Ancestry
	curated   CuratedSet
	log       *logrus.Entry
	tracer    trace.Tracer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(commander Commander, tasks TaskReader, tree Ancestry, curated CuratedSet, log *logrus.Entry) *Reconciler {
	return &Reconciler{
		commander: commander,
		tasks:     tasks,
		tree:      tree,
		curated:   curated,
		log:       log,
		tracer:    otel.Tracer("notefold/reconcile"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Reconcile diffs plainText against the tasks derived from documentID.
// Matched annotations are observed, new ones create tasks, and previously
// derived tasks with no surviving annotation are orphaned. Running the same
// text twice in a row issues no commands the second time.
func (r *Reconciler) Reconcile(ctx context.Context, documentID, plainText string) (Result, error) {
	lock := r.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := r.tracer.Start(ctx, "reconcile.document",
		trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()

	candidates := Extract(documentID, plainText)

	existing, err := r.tasks.ByDocument(ctx, documentID)
	if err != nil {
		return Result{}, err
	}
	byHash := make(map[string]taskview.Row, len(existing))
	for _, row := range existing {
		byHash[row.ContentHash] = row
	}

	var res Result
	matched := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		row, ok := byHash[cand.Hash]
		if ok {
			matched[row.ID] = true
			changed, err := r.commander.ObserveTask(ctx, row.ID, cand.Line, cand.Completed)
			if err != nil {
				return res, err
			}
			if changed {
				res.Observed++
			}
			continue
		}

		categoryID, err := r.resolveCategory(ctx, documentID)
		if err != nil {
			return res, err
		}
		if _, err := r.commander.CreateTask(ctx, task.CreateInput{
			Text:             cand.Text,
			CategoryID:       categoryID,
			SourceDocumentID: documentID,
			SourceLine:       cand.Line,
			ContentHash:      cand.Hash,
			Completed:        cand.Completed,
		}); err != nil {
			return res, err
		}
		res.Created++
	}

	for _, row := range existing {
		if matched[row.ID] || row.Orphaned {
			continue
		}
		if err := r.commander.OrphanTask(ctx, row.ID); err != nil {
			return res, err
		}
		res.Orphaned++
	}

	r.log.WithFields(logrus.Fields{
		"document_id": documentID,
		"created":     res.Created,
		"observed":    res.Observed,
		"orphaned":    res.Orphaned,
	}).Info("document reconciled")
	return res, nil
}

// resolveCategory walks the document's ancestor chain, nearest first, and
// returns the first curated ancestor. No curated ancestor leaves the task
// uncategorized.
func (r *Reconciler) resolveCategory(ctx context.Context, documentID string) (string, error) {
	chain, err := r.tree.AncestorChain(ctx, documentID)
	if err != nil {
		return "", err
	}
	for _, node := range chain {
		if node.Kind != treeview.KindCategory {
			continue
		}
		member, err := r.curated.IsMember(ctx, node.ID)
		if err != nil {
			return "", err
		}
		if member {
			return node.ID, nil
		}
	}
	return "", nil
}

func (r *Reconciler) documentLock(documentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock := r.locks[documentID]
	if lock == nil {
		lock = &sync.Mutex{}
		r.locks[documentID] = lock
	}
	return lock
}
