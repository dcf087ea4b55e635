package adapter

import (
	"context"
	"errors"
)

// PullUnary streams one upstream through body until exhaustion. body maps
// each upstream value to zero or more emissions.
func PullUnary(ctx context.Context, a Adapter, name string, emit func(any) error, body func(ctx context.Context, v any, emit func(any) error) error) error {
	in, err := a.Inputs().One(name)
	if err != nil {
		return err
	}
	upstream, err := GetOrCreateStream(ctx, in)
	if err != nil {
		return err
	}
	it := upstream.Iterator()
	for {
		v, err := it.Next(ctx)
		if errors.Is(err, ErrEnd) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := body(ctx, v, emit); err != nil {
			return err
		}
	}
}

// PullZip pairs two upstreams element-wise through body, stopping when the
// shorter one is exhausted.
func PullZip(ctx context.Context, a Adapter, lhs, rhs string, emit func(any) error, body func(ctx context.Context, l, r any, emit func(any) error) error) error {
	left, err := a.Inputs().One(lhs)
	if err != nil {
		return err
	}
	right, err := a.Inputs().One(rhs)
	if err != nil {
		return err
	}
	ls, err := GetOrCreateStream(ctx, left)
	if err != nil {
		return err
	}
	rs, err := GetOrCreateStream(ctx, right)
	if err != nil {
		return err
	}
	lit, rit := ls.Iterator(), rs.Iterator()
	for {
		lv, err := lit.Next(ctx)
		if errors.Is(err, ErrEnd) {
			return nil
		}
		if err != nil {
			return err
		}
		rv, err := rit.Next(ctx)
		if errors.Is(err, ErrEnd) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := body(ctx, lv, rv, emit); err != nil {
			return err
		}
	}
}

// PullAll drains every listed upstream to completion without consuming the
// values, propagating the first poisoned stream. Signal-style nodes use it to
// wait for their dependencies.
func PullAll(ctx context.Context, a Adapter, name string) error {
	for _, in := range a.Inputs().List(name) {
		upstream, err := GetOrCreateStream(ctx, in)
		if err != nil {
			return err
		}
		it := upstream.Iterator()
		for {
			_, err := it.Next(ctx)
			if errors.Is(err, ErrEnd) {
				break
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
