// Package engine wires the journal, aggregates, projections and the
// reconciler into the command-side application service.
//
// Every command follows the same path: load the aggregate from its stream,
// decide, append with optimistic concurrency, then synchronously catch all
// projections up before returning. A caller that queries a read model right
// after a command always sees its own write.
package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/notefold/notefold/internal/aggregate"
	"github.com/notefold/notefold/internal/curated"
	"github.com/notefold/notefold/internal/domain/category"
	"github.com/notefold/notefold/internal/domain/document"
	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/domain/task"
	evsqlite "github.com/notefold/notefold/internal/eventstore/sqlite"
	"github.com/notefold/notefold/internal/id"
	"github.com/notefold/notefold/internal/projection"
	"github.com/notefold/notefold/internal/projection/tagindex"
	"github.com/notefold/notefold/internal/projection/taskview"
	"github.com/notefold/notefold/internal/projection/treeview"
	"github.com/notefold/notefold/internal/reconcile"
)

// Options configures a new Engine.
type Options struct {
	// DBPath is the SQLite file holding the journal and all projections.
	DBPath string
	// CuratedPath is the YAML membership file. Empty means nothing is
	// curated.
	CuratedPath string
	// Log is the process logger. Required.
	Log *logrus.Logger
}

// Engine is the command-side application service.
type Engine struct {
	store        *evsqlite.Store
	orchestrator *projection.Orchestrator
	tree         *treeview.TreeView
	tags         *tagindex.TagIndex
	tasks        *taskview.TaskView
	curatedSet   *curated.Set
	reconciler   *reconcile.Reconciler

	categories *aggregate.Runtime[category.Category]
	documents  *aggregate.Runtime[document.Document]
	taskAgg    *aggregate.Runtime[task.Task]

	log    *logrus.Entry
	tracer trace.Tracer
}

// New opens the store, applies migrations, registers projections and runs
// one initial catch-up so read models reflect the journal before the first
// command.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	log := opts.Log.WithField("component", "engine")

	store, err := evsqlite.Open(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	tree, err := treeview.New(store.DB())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("tree view: %w", err)
	}
	tags, err := tagindex.New(store.DB())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("tag index: %w", err)
	}
	tasks, err := taskview.New(store.DB())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("task view: %w", err)
	}

	orchestrator, err := projection.NewOrchestrator(store.DB(), store,
		opts.Log.WithField("component", "projection"), tree, tags, tasks)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if err := orchestrator.CatchUp(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("initial catch-up: %w", err)
	}

	curatedSet, err := curated.Load(opts.CuratedPath, tree)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("curated set: %w", err)
	}
	if err := seedCurationOverrides(ctx, store, curatedSet); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed curation overrides: %w", err)
	}

	e := &Engine{
		store:        store,
		orchestrator: orchestrator,
		tree:         tree,
		tags:         tags,
		tasks:        tasks,
		curatedSet:   curatedSet,
		log:          log,
		tracer:       otel.Tracer("notefold/engine"),
	}

	e.categories, err = aggregate.NewRuntime(store, aggregate.Definition[category.Category]{
		New:   category.New,
		Apply: category.Apply,
	}, aggregate.WithBarrier[category.Category](orchestrator))
	if err != nil {
		store.Close()
		return nil, err
	}
	e.documents, err = aggregate.NewRuntime(store, aggregate.Definition[document.Document]{
		New:   document.New,
		Apply: document.Apply,
	}, aggregate.WithBarrier[document.Document](orchestrator))
	if err != nil {
		store.Close()
		return nil, err
	}
	e.taskAgg, err = aggregate.NewRuntime(store, aggregate.Definition[task.Task]{
		New:   task.New,
		Apply: task.Apply,
	}, aggregate.WithBarrier[task.Task](orchestrator))
	if err != nil {
		store.Close()
		return nil, err
	}

	e.reconciler = reconcile.New(e, tasks, tree, curatedSet,
		opts.Log.WithField("component", "reconcile"))
	e.log.WithField("db_path", opts.DBPath).Info("engine ready")
	return e, nil
}

// seedCurationOverrides replays curation events from the journal so the
// in-memory curated set matches journal state after a restart.
func seedCurationOverrides(ctx context.Context, store *evsqlite.Store, set *curated.Set) error {
	var fromSeq uint64
	for {
		events, err := store.ReadAll(ctx, fromSeq, 200)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, evt := range events {
			fromSeq = evt.GlobalSeq
			if evt.Type != event.TypeCategoryCurationChanged {
				continue
			}
			payload, err := event.DecodePayload(evt)
			if err != nil {
				return err
			}
			p, ok := payload.(event.CategoryCurationChangedPayload)
			if !ok {
				continue
			}
			set.ApplyCurationChange(evt.StreamID, p.Curated)
		}
	}
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Tree exposes the hierarchy read model.
func (e *Engine) Tree() *treeview.TreeView { return e.tree }

// Tags exposes the tag read model.
func (e *Engine) Tags() *tagindex.TagIndex { return e.tags }

// Tasks exposes the task read model.
func (e *Engine) Tasks() *taskview.TaskView { return e.tasks }

// ProjectionStatuses reports catch-up positions and halts.
func (e *Engine) ProjectionStatuses(ctx context.Context) ([]projection.Status, error) {
	return e.orchestrator.Statuses(ctx)
}

// CreateCategory registers a new category node under parentID (empty for a
// root node) and returns its id.
func (e *Engine) CreateCategory(ctx context.Context, name, parentID string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.create_category")
	defer span.End()

	categoryID, err := id.NewID()
	if err != nil {
		return "", err
	}
	if _, _, err := e.categories.Execute(ctx, categoryID, category.DecideCreate(name, parentID)); err != nil {
		return "", err
	}
	return categoryID, nil
}

// RenameCategory changes a category's display name.
func (e *Engine) RenameCategory(ctx context.Context, categoryID, name string) error {
	_, _, err := e.categories.Execute(ctx, categoryID, category.DecideRename(name))
	return err
}

// ReparentCategory moves a category under a new parent. The prospective
// parent's ancestor chain is resolved against the tree view so the cycle
// invariant can be checked before any event is appended.
func (e *Engine) ReparentCategory(ctx context.Context, categoryID, newParentID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.reparent_category",
		trace.WithAttributes(attribute.String("category.id", categoryID)))
	defer span.End()

	var ancestors []string
	if newParentID != "" {
		chain, err := e.tree.AncestorChain(ctx, newParentID)
		if err != nil {
			return err
		}
		for _, node := range chain {
			ancestors = append(ancestors, node.ID)
		}
	}
	if _, _, err := e.categories.Execute(ctx, categoryID,
		category.DecideReparent(newParentID, ancestors)); err != nil {
		return err
	}
	// Path-based curated entries may now resolve differently.
	e.curatedSet.InvalidateResolution()
	return nil
}

// SetCategoryCurated flips curated-set membership for a category.
func (e *Engine) SetCategoryCurated(ctx context.Context, categoryID string, isCurated bool) error {
	if _, _, err := e.categories.Execute(ctx, categoryID,
		category.DecideSetCurated(isCurated)); err != nil {
		return err
	}
	e.curatedSet.ApplyCurationChange(categoryID, isCurated)
	return nil
}

// CreateDocument registers a document under a category and returns its id.
func (e *Engine) CreateDocument(ctx context.Context, name, categoryID string) (string, error) {
	documentID, err := id.NewID()
	if err != nil {
		return "", err
	}
	if _, _, err := e.documents.Execute(ctx, documentID,
		document.DecideCreate(name, categoryID)); err != nil {
		return "", err
	}
	return documentID, nil
}

// RenameDocument changes a document's display name.
func (e *Engine) RenameDocument(ctx context.Context, documentID, name string) error {
	_, _, err := e.documents.Execute(ctx, documentID, document.DecideRename(name))
	return err
}

// MoveDocument places a document under a different category.
func (e *Engine) MoveDocument(ctx context.Context, documentID, newCategoryID string) error {
	_, _, err := e.documents.Execute(ctx, documentID, document.DecideMove(newCategoryID))
	return err
}

// AssignTag adds a direct tag to a category or document. A "-tag" form
// masks an inherited tag on that subtree.
func (e *Engine) AssignTag(ctx context.Context, entityID, tag string) error {
	return e.tagCommand(ctx, entityID,
		category.DecideAssignTag(tag), document.DecideAssignTag(tag))
}

// RemoveTag removes a direct tag from a category or document.
func (e *Engine) RemoveTag(ctx context.Context, entityID, tag string) error {
	return e.tagCommand(ctx, entityID,
		category.DecideRemoveTag(tag), document.DecideRemoveTag(tag))
}

// tagCommand routes a tag mutation to the aggregate kind the entity id
// denotes, using the tree view to tell categories from documents.
func (e *Engine) tagCommand(ctx context.Context, entityID string,
	onCategory func(category.Category, uint64) ([]event.Event, error),
	onDocument func(document.Document, uint64) ([]event.Event, error),
) error {
	node, err := e.tree.Get(ctx, entityID)
	if err != nil {
		return err
	}
	switch node.Kind {
	case treeview.KindDocument:
		_, _, err = e.documents.Execute(ctx, entityID, onDocument)
	default:
		_, _, err = e.categories.Execute(ctx, entityID, onCategory)
	}
	return err
}

// SetTaskCompleted flips a task's completion state directly, outside of
// reconciliation.
func (e *Engine) SetTaskCompleted(ctx context.Context, taskID string, isCompleted bool) error {
	_, _, err := e.taskAgg.Execute(ctx, taskID, task.DecideSetCompleted(isCompleted))
	return err
}

// DocumentSaved runs a reconciliation pass for the document's plain text.
// Passes for the same document are serialized.
func (e *Engine) DocumentSaved(ctx context.Context, documentID, plainText string) (reconcile.Result, error) {
	return e.reconciler.Reconcile(ctx, documentID, plainText)
}

// CreateTask implements reconcile.Commander.
func (e *Engine) CreateTask(ctx context.Context, input task.CreateInput) (string, error) {
	taskID, err := id.NewID()
	if err != nil {
		return "", err
	}
	if _, _, err := e.taskAgg.Execute(ctx, taskID, task.DecideCreate(input)); err != nil {
		return "", err
	}
	return taskID, nil
}

// ObserveTask implements reconcile.Commander. It reports whether the
// sighting appended anything; an unchanged task is a pure no-op.
func (e *Engine) ObserveTask(ctx context.Context, taskID string, sourceLine int, completed bool) (bool, error) {
	decide := task.DecideObserved(sourceLine, completed)
	var changed bool
	_, _, err := e.taskAgg.Execute(ctx, taskID,
		func(state task.Task, version uint64) ([]event.Event, error) {
			events, err := decide(state, version)
			changed = len(events) > 0
			return events, err
		})
	return changed && err == nil, err
}

// OrphanTask implements reconcile.Commander. Orphaning is soft.
func (e *Engine) OrphanTask(ctx context.Context, taskID string) error {
	_, _, err := e.taskAgg.Execute(ctx, taskID, task.DecideOrphan())
	return err
}
