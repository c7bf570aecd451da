// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"errors"
	"io"
	"reflect"
	"slices"
	"sync/atomic"
)

var nextStart atomic.Uint64

// GetNext waits until any of conns has a response ready and returns it
// with the connection that produced it. Connections without an outstanding
// invocation are skipped; io.EOF is returned when none has one.
//
// Every call starts scanning at a different connection, so a connection
// that always has data ready cannot starve the others.
func GetNext(ctx context.Context, conns ...*Connection) (*Response, *Connection, error) {
	for {
		var live []*Invocation
		for _, c := range conns {
			if inv := c.invocation(); inv != nil {
				live = append(live, inv)
			}
		}
		if len(live) == 0 {
			return nil, nil, io.EOF
		}
		start := int(nextStart.Add(1) % uint64(len(live)))
		live = slices.Concat(live[start:], live[:start])

		resp, inv, err := pollOnce(live)
		if inv == nil {
			resp, inv, err = waitAny(ctx, live)
			if inv == nil {
				return nil, nil, err
			}
		}
		if errors.Is(err, io.EOF) {
			continue
		}
		return resp, inv.conn, err
	}
}

// pollOnce takes a ready response without blocking.
func pollOnce(live []*Invocation) (*Response, *Invocation, error) {
	for _, inv := range live {
		select {
		case it, ok := <-inv.ch:
			resp, err := inv.receive(it, ok)
			return resp, inv, err
		default:
		}
	}
	return nil, nil, nil
}

func waitAny(ctx context.Context, live []*Invocation) (*Response, *Invocation, error) {
	cases := make([]reflect.SelectCase, 0, len(live)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, inv := range live {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(inv.ch)})
	}
	chosen, v, ok := reflect.Select(cases)
	if chosen == 0 {
		return nil, nil, ctx.Err()
	}
	inv := live[chosen-1]
	var it invokeItem
	if ok {
		it = v.Interface().(invokeItem)
	}
	resp, err := inv.receive(it, ok)
	return resp, inv, err
}
