package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

type fakeDB struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) Row
	BeginFunc    func(ctx context.Context) (Tx, error)
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, sql, args...)
	}
	return fakeCommandTag{}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(ctx, sql, args...)
	}
	return fakeRow{scanFunc: func(dest ...any) error { return errors.New("unexpected QueryRow") }}
}

func (f *fakeDB) Begin(ctx context.Context) (Tx, error) {
	if f.BeginFunc != nil {
		return f.BeginFunc(ctx)
	}
	return nil, errors.New("unexpected Begin")
}

type fakeTx struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) Row
	CommitFunc   func(ctx context.Context) error
	RollbackFunc func(ctx context.Context) error
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, sql, args...)
	}
	return fakeCommandTag{}, nil
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(ctx, sql, args...)
	}
	return fakeRow{scanFunc: func(dest ...any) error { return errors.New("unexpected QueryRow") }}
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.CommitFunc != nil {
		return f.CommitFunc(ctx)
	}
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.RollbackFunc != nil {
		return f.RollbackFunc(ctx)
	}
	return nil
}

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assignValues(dest, r.rows[r.idx-1])
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error {
	return r.err
}

type fakeCommandTag struct {
	rowsAffected int64
}

func (c fakeCommandTag) RowsAffected() int64 {
	return c.rowsAffected
}

func rowFromValues(values ...any) Row {
	return fakeRow{scanFunc: func(dest ...any) error {
		return assignValues(dest, values)
	}}
}

// assignValues copies values into scan destinations the way pgx would for the
// types the services use: nil zeroes the target, pointers are dereferenced into
// non-pointer targets and named string types convert from string.
func assignValues(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: expected %d values, got %d", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if values[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		src := reflect.ValueOf(values[i])
		switch {
		case src.Type().AssignableTo(elem.Type()):
			elem.Set(src)
		case src.Kind() == reflect.Pointer && !src.IsNil() && src.Elem().Type().AssignableTo(elem.Type()):
			elem.Set(src.Elem())
		case elem.Kind() == reflect.Pointer && src.Type().AssignableTo(elem.Type().Elem()):
			ptr := reflect.New(elem.Type().Elem())
			ptr.Elem().Set(src)
			elem.Set(ptr)
		case src.Type().ConvertibleTo(elem.Type()) && src.Kind() == elem.Kind():
			elem.Set(src.Convert(elem.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s", values[i], elem.Type())
		}
	}
	return nil
}
