// Package partition routes entities to the private or shared partition.
//
// Every entity lives in the partition of the student that owns it. The only
// way to change that is TransferToShared, which moves a student and its
// whole owned subgraph in one audited step. There is no way back.
package partition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/store"
)

// ErrAlreadyShared is returned when transferring a student that is already
// in the shared partition.
var ErrAlreadyShared = errors.New("student already shared")

// ErrPrecondition is matched by errors.Is for every PreconditionError.
var ErrPrecondition = errors.New("transfer precondition failed")

// PreconditionError lists the references that would cross partitions if the
// transfer went ahead.
type PreconditionError struct {
	StudentID string
	Refs      []store.CrossRef
}

func (e *PreconditionError) Error() string {
	parts := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		parts[i] = fmt.Sprintf("%s.%s -> %s (%s, owner %s)", r.FromID, r.Field, r.ToID, r.OtherPart, r.Other)
	}
	return fmt.Sprintf("transfer %s: %d reference(s) to unshared data: %s",
		e.StudentID, len(e.Refs), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrPrecondition.
func (e *PreconditionError) Unwrap() error {
	return ErrPrecondition
}

// Store is the storage the router needs. Implemented by *store.Store.
type Store interface {
	PartitionOf(ctx context.Context, id string) (model.Partition, error)
	Subgraph(ctx context.Context, studentID string) (store.Subgraph, error)
	TransferStudent(ctx context.Context, studentID string, to model.Partition, check func(store.Subgraph) error) error
}

// Router answers partition membership and performs transfers.
type Router struct {
	store  Store
	logger *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// New creates a Router over s.
func New(s Store, opts ...Option) *Router {
	r := &Router{store: s, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PartitionOf returns the partition entity id currently lives in.
func (r *Router) PartitionOf(ctx context.Context, id string) (model.Partition, error) {
	return r.store.PartitionOf(ctx, id)
}

// TransferToShared moves a student and everything it owns into the shared
// partition.
//
// Rejected with ErrAlreadyShared if the student is already shared, and with
// a *PreconditionError if any reference between the student's data and
// another student's data points at something not yet in the shared
// partition (an instructor used by two students must be shared first).
// The check runs inside the transfer transaction, so nothing moves when it
// fails.
func (r *Router) TransferToShared(ctx context.Context, studentID string) error {
	err := r.store.TransferStudent(ctx, studentID, model.PartitionShared, func(g store.Subgraph) error {
		if g.Student.Partition == model.PartitionShared {
			return ErrAlreadyShared
		}
		return checkCrossRefs(studentID, g.CrossRefs)
	})
	if err != nil {
		if errors.Is(err, ErrPrecondition) {
			r.logger.Warn("transfer rejected",
				zap.String("student_id", studentID),
				zap.Error(err))
		}
		return err
	}
	return nil
}

// Preflight reports whether TransferToShared would currently succeed,
// without changing anything.
func (r *Router) Preflight(ctx context.Context, studentID string) error {
	g, err := r.store.Subgraph(ctx, studentID)
	if err != nil {
		return err
	}
	if g.Student.Partition == model.PartitionShared {
		return ErrAlreadyShared
	}
	return checkCrossRefs(studentID, g.CrossRefs)
}

func checkCrossRefs(studentID string, refs []store.CrossRef) error {
	var blocking []store.CrossRef
	for _, ref := range refs {
		if ref.OtherPart != model.PartitionShared {
			blocking = append(blocking, ref)
		}
	}
	if len(blocking) > 0 {
		return &PreconditionError{StudentID: studentID, Refs: blocking}
	}
	return nil
}
