// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package cas is a client for the CAS analytics server.
//
// A [Connection] is one channel to a server session. Actions are invoked by
// name with a tree of parameters; the server answers with a stream of
// [Response] chunks which [Invocation.Results] folds into a [Results].
//
//	conn, err := cas.Connect(ctx, cas.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	res, err := conn.Retrieve(ctx, "simple.summary", cas.Params{
//		"table": cas.Params{"name": "cars", "groupBy": []string{"Origin"}},
//	})
//	if err != nil {
//		return err
//	}
//	defer res.Release()
//	if res.Failed() {
//		return fmt.Errorf("summary: %s", res.Status)
//	}
//	tables, err := res.GetTables("Summary")
//
// # Parameters
//
// Parameters are plain Go values: maps (or [Params] and *xdict.Dict) become
// named parameter lists, slices and [Tuple] become value lists, [Set] and
// map[T]struct{} become sorted value lists. Integers that fit in 32 bits
// are sent as int32. time.Time is a datetime, [Date] a calendar date and
// casdt.TimeOfDay a time of day. Values with no wire form are rejected
// with a *[MarshalError] before any I/O.
//
// # Action errors
//
// A failed action is not a Go error. The severity, reason and status of the
// final response are reported on [Results.Disposition] together with the
// server messages. Set [Options.ExceptionOnSeverity] to turn failures into
// an *[ActionError] instead. Go errors are reserved for calls that could
// not be made: *[ConnectionError], *[ProtocolError], *[MarshalError] and the
// sentinels such as [ErrBusy] and [ErrCapability].
//
// # By-groups
//
// Actions run with a groupBy produce one replica of each table per
// by-group. They are keyed "ByGroup{n}.{name}", or
// "ByGroupSet{m}.ByGroup{n}.{name}" when the action used more than one
// group-by set, and a ByGroupInfo table lists the by-variable values of
// every group. See [Results.GetTables], [Results.GetGroup],
// [Results.GetSet] and [Results.ConcatByGroups].
//
// # Protocols
//
// The native protocol sends every request and frame as an Arrow IPC stream
// over TCP and supports binary parameters and [Connection.Fork]. The HTTP
// protocol speaks the server's REST dialect with JSON bodies, optionally
// zstd-compressed. With [ProtocolAuto] the native protocol is tried first.
//
// # Fan-out
//
// Independent actions can run in parallel on forked connections and be
// collected with [GetNext] as they complete:
//
//	conns, err := conn.Fork(ctx, 3)
//	for i, c := range conns {
//		c.Invoke(ctx, "actionTest.sleep", cas.Params{"duration": i})
//	}
//	for {
//		resp, c, err := cas.GetNext(ctx, conns...)
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		...
//	}
package cas
