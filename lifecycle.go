package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SelectCriteria narrows a select query. It is the repository package type
// so criteria pass straight through to the generic repository.
type SelectCriteria = repository.SelectCriteria

// WhereEqual matches column = value
func WhereEqual(column string, value any) SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}
}

// WhereEqualFold matches column = value ignoring case
func WhereEqualFold(column, value string) SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("lower(?TableAlias.?) = ?", bun.Ident(column), strings.ToLower(value))
	}
}

// OrderBy sorts by column, ascending unless desc is set
func OrderBy(column string, desc bool) SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if desc {
			return q.OrderExpr("?TableAlias.? DESC", bun.Ident(column))
		}
		return q.OrderExpr("?TableAlias.? ASC", bun.Ident(column))
	}
}

// Store is the soft delete aware persistence contract shared by every
// entity. Reads only see live records unless the method says otherwise.
type Store[T Entity] interface {
	Get(ctx context.Context, id uuid.UUID) (T, error)
	GetAll(ctx context.Context) ([]T, error)
	Find(ctx context.Context, criteria ...SelectCriteria) ([]T, error)
	FindOne(ctx context.Context, criteria ...SelectCriteria) (T, error)
	Add(ctx context.Context, record T) (T, error)
	Update(ctx context.Context, record T) (T, error)
	SoftDelete(ctx context.Context, record T) error
	SoftDeleteByID(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, record T) error
	RestoreByID(ctx context.Context, id uuid.UUID) (T, error)
	GetTrashed(ctx context.Context) ([]T, error)
	GetTrashedByID(ctx context.Context, id uuid.UUID) (T, error)
	GetAllIncludingDeleted(ctx context.Context) ([]T, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Count(ctx context.Context, criteria ...SelectCriteria) (int, error)
}

// Purger physically removes a record. It is kept apart from Store so that
// ordinary callers have no hard delete path.
type Purger interface {
	Purge(ctx context.Context, id uuid.UUID) error
}

// StoreHandlers tells the generic store how to build records of T
type StoreHandlers[T Entity] struct {
	NewRecord func() T
}

func (h StoreHandlers[T]) model() repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: h.NewRecord,
		GetID: func(record T) uuid.UUID {
			return record.GetLifecycle().ID
		},
		SetID: func(record T, id uuid.UUID) {
			record.GetLifecycle().ID = id
		},
		GetIdentifier: func() string {
			return "id"
		},
	}
}

// StoreOption configures a LifecycleStore
type StoreOption func(*storeOptions)

type storeOptions struct {
	clock func() time.Time
}

// WithStoreClock overrides the time source used for lifecycle timestamps
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// LifecycleStore layers the is_deleted lifecycle over a generic
// repository.Repository. Every query runs against db, which is either the
// root handle or the transaction the store was bound to with WithTx. The
// repository is held, not embedded, so its hard delete methods stay off
// the store's method set.
type LifecycleStore[T Entity] struct {
	repo     repository.Repository[T]
	db       bun.IDB
	handlers StoreHandlers[T]
	clock    func() time.Time
}

var (
	_ Store[*User] = (*LifecycleStore[*User])(nil)
	_ Purger       = (*LifecycleStore[*User])(nil)
)

// NewStore builds a store for T bound to db
func NewStore[T Entity](db *bun.DB, handlers StoreHandlers[T], opts ...StoreOption) *LifecycleStore[T] {
	o := &storeOptions{clock: defaultClock}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &LifecycleStore[T]{
		repo:     repository.NewRepository(db, handlers.model()),
		db:       db,
		handlers: handlers,
		clock:    o.clock,
	}
}

func defaultClock() time.Time {
	return time.Now().UTC()
}

// WithTx returns a copy of the store bound to tx
func (s *LifecycleStore[T]) WithTx(tx bun.IDB) *LifecycleStore[T] {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	return &clone
}

// DB returns the handle the store is bound to
func (s *LifecycleStore[T]) DB() bun.IDB {
	return s.db
}

func (s *LifecycleStore[T]) now() time.Time {
	return s.clock()
}

func whereDeleted(deleted bool) SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.is_deleted = ?", deleted)
	}
}

func whereID(id uuid.UUID) SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	}
}

// unbounded lifts the default page size ListTx applies
func unbounded(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Limit(0).Offset(0)
}

func live(criteria ...SelectCriteria) []SelectCriteria {
	return append([]SelectCriteria{whereDeleted(false)}, criteria...)
}

func (s *LifecycleStore[T]) list(ctx context.Context, criteria ...SelectCriteria) ([]T, error) {
	records, _, err := s.repo.ListTx(ctx, s.db, append(criteria, unbounded)...)
	if err != nil {
		if IsNotFound(err) {
			return make([]T, 0), nil
		}
		return nil, err
	}
	return records, nil
}

func (s *LifecycleStore[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	record, err := s.repo.GetTx(ctx, s.db, live(whereID(id))...)
	if err != nil {
		var zero T
		return zero, s.mapErr(err, id)
	}
	return record, nil
}

func (s *LifecycleStore[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.Find(ctx)
}

func (s *LifecycleStore[T]) Find(ctx context.Context, criteria ...SelectCriteria) ([]T, error) {
	return s.list(ctx, live(criteria...)...)
}

func (s *LifecycleStore[T]) FindOne(ctx context.Context, criteria ...SelectCriteria) (T, error) {
	record, err := s.repo.GetTx(ctx, s.db, live(criteria...)...)
	if err != nil {
		var zero T
		return zero, s.mapErr(err, uuid.Nil)
	}
	return record, nil
}

func (s *LifecycleStore[T]) Add(ctx context.Context, record T) (T, error) {
	lc := record.GetLifecycle()
	now := s.now()
	if lc.CreatedAt.IsZero() {
		lc.CreatedAt = now
	}
	lc.UpdatedAt = now
	lc.IsDeleted = false
	lc.DeletedAt = nil

	return s.repo.CreateTx(ctx, s.db, record)
}

// Update writes every mutable column of a live record and bumps UpdatedAt.
// UpdateTx omits zero values, which would drop writes such as clearing a
// flag, so the update is issued here.
func (s *LifecycleStore[T]) Update(ctx context.Context, record T) (T, error) {
	lc := record.GetLifecycle()
	lc.UpdatedAt = s.now()

	res, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("id", "created_at", "is_deleted", "deleted_at").
		WherePK().
		Where("?TableAlias.is_deleted = ?", false).
		Exec(ctx)

	var zero T
	if err != nil {
		return zero, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return zero, s.notFound(lc.ID)
	}
	return record, nil
}

func (s *LifecycleStore[T]) SoftDelete(ctx context.Context, record T) error {
	lc := record.GetLifecycle()
	if err := s.SoftDeleteByID(ctx, lc.ID); err != nil {
		return err
	}
	if !lc.IsDeleted {
		lc.markDeleted(s.now())
	}
	return nil
}

// SoftDeleteByID flags the record as deleted. Deleting an already deleted
// record is a no-op.
func (s *LifecycleStore[T]) SoftDeleteByID(ctx context.Context, id uuid.UUID) error {
	now := s.now()
	res, err := s.db.NewUpdate().
		Model(s.handlers.NewRecord()).
		Set("is_deleted = ?", true).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.is_deleted = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	found, err := s.existsAny(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return s.notFound(id)
	}
	return nil
}

func (s *LifecycleStore[T]) Restore(ctx context.Context, record T) error {
	lc := record.GetLifecycle()
	if _, err := s.RestoreByID(ctx, lc.ID); err != nil {
		return err
	}
	lc.markRestored(s.now())
	return nil
}

// RestoreByID clears the deleted flag. Only a deleted record can be restored.
func (s *LifecycleStore[T]) RestoreByID(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	now := s.now()
	res, err := s.db.NewUpdate().
		Model(s.handlers.NewRecord()).
		Set("is_deleted = ?", false).
		Set("deleted_at = NULL").
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.is_deleted = ?", true).
		Exec(ctx)
	if err != nil {
		return zero, err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		live, err := s.Exists(ctx, id)
		if err != nil {
			return zero, err
		}
		if live {
			return zero, ErrRecordNotTrashed.Clone().WithMetadata(map[string]any{
				"id": id.String(),
			})
		}
		return zero, s.notFound(id)
	}

	return s.Get(ctx, id)
}

func (s *LifecycleStore[T]) GetTrashed(ctx context.Context) ([]T, error) {
	return s.list(ctx, whereDeleted(true))
}

func (s *LifecycleStore[T]) GetTrashedByID(ctx context.Context, id uuid.UUID) (T, error) {
	record, err := s.repo.GetTx(ctx, s.db, whereDeleted(true), whereID(id))
	if err != nil {
		var zero T
		return zero, s.mapErr(err, id)
	}
	return record, nil
}

func (s *LifecycleStore[T]) GetAllIncludingDeleted(ctx context.Context) ([]T, error) {
	return s.list(ctx)
}

func (s *LifecycleStore[T]) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.repo.CountTx(ctx, s.db, live(whereID(id))...)
	return n > 0, err
}

func (s *LifecycleStore[T]) Count(ctx context.Context, criteria ...SelectCriteria) (int, error) {
	return s.repo.CountTx(ctx, s.db, live(criteria...)...)
}

// Purge hard deletes the record, live or not.
func (s *LifecycleStore[T]) Purge(ctx context.Context, id uuid.UUID) error {
	found, err := s.existsAny(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return s.notFound(id)
	}

	record := s.handlers.NewRecord()
	record.GetLifecycle().ID = id
	return s.repo.ForceDeleteTx(ctx, s.db, record)
}

func (s *LifecycleStore[T]) existsAny(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.repo.CountTx(ctx, s.db, whereID(id))
	return n > 0, err
}

func (s *LifecycleStore[T]) mapErr(err error, id uuid.UUID) error {
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return s.notFound(id)
	}
	return err
}

func (s *LifecycleStore[T]) notFound(id uuid.UUID) error {
	md := map[string]any{}
	if id != uuid.Nil {
		md["id"] = id.String()
	}
	return repository.NewRecordNotFound().WithMetadata(md)
}

// IsNotFound reports whether err is a record not found error
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
