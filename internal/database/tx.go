package database

import (
	"context"
	"sync"

	"github.com/cosplatform/eventcore/pkg/logger"
	"gorm.io/gorm"
)

// CommitHook runs after the outermost transaction commits.
type CommitHook func(ctx context.Context) error

type hookList struct {
	mu  sync.Mutex
	fns []CommitHook
}

func (h *hookList) add(fn CommitHook) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *hookList) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

func (h *hookList) truncate(n int) {
	h.mu.Lock()
	h.fns = h.fns[:n]
	h.mu.Unlock()
}

func (h *hookList) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for i, fn := range fns {
		if err := fn(ctx); err != nil {
			logger.Error("Post-commit hook failed", "hook", i, "error", err)
		}
	}
}

// Tx is a gorm transaction that collects post-commit hooks.
type Tx struct {
	DB    *gorm.DB
	hooks *hookList
}

// OnCommit registers fn to run once the outermost transaction has committed.
// Hooks are discarded when the transaction, or the nested scope that
// registered them, rolls back.
func (t *Tx) OnCommit(fn CommitHook) {
	t.hooks.add(fn)
}

// Nested runs fn inside a savepoint. Hooks registered by fn are kept only
// if fn succeeds.
func (t *Tx) Nested(fn func(tx *Tx) error) error {
	mark := t.hooks.len()
	err := t.DB.Transaction(func(inner *gorm.DB) error {
		return fn(&Tx{DB: inner, hooks: t.hooks})
	})
	if err != nil {
		t.hooks.truncate(mark)
	}
	return err
}

// Transact runs fn in a single transaction and then runs the commit hooks in
// registration order. Hook errors are logged; the committed work stands.
func Transact(ctx context.Context, db *gorm.DB, fn func(tx *Tx) error) error {
	hooks := &hookList{}
	err := db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&Tx{DB: gtx, hooks: hooks})
	})
	if err != nil {
		return err
	}
	hooks.run(context.WithoutCancel(ctx))
	return nil
}
