// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"context"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Query-farm/swat-go/cas"
	"github.com/Query-farm/swat-go/casdt"
)

const (
	wrongType  = "A parameter was the wrong type and could not be converted."
	parseError = "Error parsing action parameters."
)

func registerBuiltins(s *Server) {
	s.Register("builtins.echo", "Builtins", echo)
	s.Register("builtins.loadActionSet", "", loadActionSet)
	s.Register("builtins.actionSetInfo", "", actionSetInfo)
	s.Register("builtins.serverStatus", "", serverStatus)
	s.Register("builtins.reflect", "", reflectAction)

	s.Register("session.setlocale", "Session Methods", setLocale)
	s.Register("session.sessionName", "", sessionName)
	s.Register("session.endSession", "", endSession)

	s.Register("simple.summary", "Simple Analytics", summary)
	s.Register("simple.topk", "", topK)

	s.Register("actionTest.testparms", "Action Test", testParms)
	s.Register("actionTest.sleep", "", sleep)
	s.Register("actionTest.events", "", events)
	s.Register("actionTest.restart", "", restart)
	s.Register("actionTest.fail", "", fail)

	describeBuiltins(s)
}

func describeBuiltins(s *Server) {
	tableDef := cas.ParamSpec{Name: "table", Type: "value_list", IsTableDef: true, ParmList: []cas.ParamSpec{
		{Name: "name", Type: "string"},
		{Name: "groupBy", Type: "value_list"},
		{Name: "groupBySets", Type: "value_list"},
	}}
	s.Describe("builtins.loadActionSet", cas.ParamSpec{Name: "actionSet", Type: "string"})
	s.Describe("builtins.reflect", cas.ParamSpec{Name: "action", Type: "string"})
	s.Describe("session.setlocale", cas.ParamSpec{Name: "locale", Type: "string"})
	s.Describe("session.sessionName", cas.ParamSpec{Name: "name", Type: "string"})
	s.Describe("simple.summary", tableDef, cas.ParamSpec{Name: "inputs", Type: "value_list"})
	s.Describe("simple.topk", tableDef,
		cas.ParamSpec{Name: "inputs", Type: "value_list"},
		cas.ParamSpec{Name: "topk", Type: "int32"})
	s.Describe("actionTest.sleep", cas.ParamSpec{Name: "duration", Type: "double"})
	s.Describe("actionTest.fail",
		cas.ParamSpec{Name: "severity", Type: "int32"},
		cas.ParamSpec{Name: "status", Type: "string"})
	specs := make([]cas.ParamSpec, 0, len(slotKinds))
	for _, sl := range slotKinds {
		typ := sl.kind.String()
		if sl.kind == cas.KindNil {
			typ = "any"
		}
		specs = append(specs, cas.ParamSpec{Name: sl.name, Type: typ})
	}
	s.Describe("actionTest.testparms", specs...)
}

// specValue renders a parameter description the way reflect reports it.
func specValue(p cas.ParamSpec) cas.Value {
	fields := cas.ParamList{
		{Name: "name", Value: cas.String(p.Name)},
		{Name: "parmType", Value: cas.String(p.Type)},
	}
	if p.Desc != "" {
		fields = append(fields, cas.Param{Name: "desc", Value: cas.String(p.Desc)})
	}
	if p.IsTableDef {
		fields = append(fields, cas.Param{Name: "isTableDef", Value: cas.Bool(true)})
	}
	if p.IsTableName {
		fields = append(fields, cas.Param{Name: "isTableName", Value: cas.Bool(true)})
	}
	if len(p.ParmList) > 0 {
		sub := make([]cas.Value, len(p.ParmList))
		for i, c := range p.ParmList {
			sub[i] = specValue(c)
		}
		fields = append(fields, cas.Param{Name: "parmList", Value: cas.List(sub...)})
	}
	return cas.TableOf(fields)
}

// reflectAction reports the signatures of the action set that holds the
// requested action.
func reflectAction(_ context.Context, call *Call) error {
	v, _ := call.Param("action")
	if v.Kind != cas.KindString {
		return badParam(call, "Parameter 'action' is required.")
	}
	info, ok := call.Server.lookup(v.Str)
	if !ok {
		if err := call.Errorf("Action '%s' was not found.", v.Str); err != nil {
			return err
		}
		call.Fail(errActionNotFound, "The specified action was not found.")
		return nil
	}
	var actions []cas.Value
	for _, a := range call.Server.actionsOf(info.ActionSet) {
		params := make([]cas.Value, len(a.Params))
		for i, p := range a.Params {
			params[i] = specValue(p)
		}
		actions = append(actions, cas.TableOf(cas.ParamList{
			{Name: "name", Value: cas.String(a.Name)},
			{Name: "params", Value: cas.List(params...)},
		}))
	}
	label, _ := call.Server.actionSetLabel(info.ActionSet)
	return call.Value("0", cas.TableOf(cas.ParamList{
		{Name: "name", Value: cas.String(info.ActionSet)},
		{Name: "label", Value: cas.String(label)},
		{Name: "actions", Value: cas.List(actions...)},
	}))
}

// tableAttrs stamps the attributes every result table carries.
func tableAttrs(t *cas.Table, call *Call) *cas.Table {
	set, _, _ := strings.Cut(call.Action, ".")
	t.Attrs[cas.AttrAction] = call.Action[len(set)+1:]
	t.Attrs[cas.AttrActionSet] = set
	t.Attrs[cas.AttrCreateTime] = casdt.DateTimeToSAS(time.Now())
	return t
}

func echo(_ context.Context, call *Call) error {
	for i, p := range call.Params {
		key := p.Name
		if key == "" {
			key = strconv.Itoa(i)
		}
		if err := call.Value(key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func loadActionSet(_ context.Context, call *Call) error {
	v, _ := call.Param("actionSet")
	if v.Kind != cas.KindString {
		return badParam(call, "Parameter 'actionSet' is required.")
	}
	label, ok := call.Server.actionSetLabel(v.Str)
	if !ok {
		call.Errorf("Action set '%s' was not found.", v.Str)
		call.Fail(errActionNotFound, "The action set was not found.")
		return nil
	}
	call.Session.load(v.Str)
	if err := call.Notef("Added action set '%s'.", v.Str); err != nil {
		return err
	}
	return call.Value("actionset", cas.String(label))
}

func actionSetInfo(_ context.Context, call *Call) error {
	var rows [][]any
	for _, name := range call.Server.actionSetNames() {
		label, _ := call.Server.actionSetLabel(name)
		loaded := 0
		if call.Session.Loaded(name) {
			loaded = 1
		}
		rows = append(rows, []any{name, label, loaded})
	}
	t, err := cas.NewTableFromRows("setinfo", []cas.Column{
		{Name: "actionset", Type: "varchar", Label: "Action set"},
		{Name: "label", Type: "varchar", Label: "Label"},
		{Name: "loaded", Type: "int32", Label: "Loaded"},
	}, rows)
	if err != nil {
		return err
	}
	t.Label = "Action set information"
	return call.Table("setinfo", tableAttrs(t, call))
}

var serverStart = time.Now()

func serverStatus(_ context.Context, call *Call) error {
	now := time.Now()
	about := cas.TableOf(cas.ParamList{
		{Name: "CAS", Value: cas.String("Cloud Analytic Services")},
		{Name: "Version", Value: cas.String("4.00")},
		{Name: "ServerTime", Value: cas.Value{Kind: cas.KindDateTime, Int: casdt.DateTimeToCAS(now)}},
		{Name: "System", Value: cas.TableOf(cas.ParamList{
			{Name: "Hostname", Value: cas.String("localhost")},
			{Name: "OS Name", Value: cas.String("Linux")},
		})},
	})
	if err := call.Value("About", about); err != nil {
		return err
	}

	server, err := cas.NewTableFromRows("server", []cas.Column{
		{Name: "nodes", Type: "int32", Label: "Node Count"},
		{Name: "actions", Type: "int32", Label: "Total Actions"},
	}, [][]any{{1, call.Server.numActions()}})
	if err != nil {
		return err
	}
	server.Label = "Server Status"
	if err := call.Table("server", tableAttrs(server, call)); err != nil {
		return err
	}

	nodes, err := cas.NewTableFromRows("nodestatus", []cas.Column{
		{Name: "name", Type: "varchar", Label: "Node Name"},
		{Name: "role", Type: "varchar", Label: "Role"},
		{Name: "uptime", Type: "double", Format: "F12.3", Label: "Uptime (Sec)"},
		{Name: "running", Type: "int32", Label: "Running"},
		{Name: "stalled", Type: "int32", Label: "Stalled"},
		{Name: "started", Type: "datetime", Format: "DATETIME25.", Label: "Started"},
	}, [][]any{{"localhost", "controller", now.Sub(serverStart).Seconds(), 0, 0, serverStart}})
	if err != nil {
		return err
	}
	nodes.Label = "Node Status"
	return call.Table("nodestatus", tableAttrs(nodes, call))
}

func setLocale(_ context.Context, call *Call) error {
	v, _ := call.Param("locale")
	if v.Kind != cas.KindString || !validLocale(v.Str) {
		call.Errorf("Locale '%s' is not valid.", v.Str)
		call.Fail(errBadLocale, "Locale '"+v.Str+"' is not valid.")
		return nil
	}
	call.Session.mu.Lock()
	call.Session.locale = v.Str
	call.Session.mu.Unlock()
	return nil
}

func sessionName(_ context.Context, call *Call) error {
	v, _ := call.Param("name")
	if v.Kind != cas.KindString {
		return badParam(call, "Parameter 'name' is required.")
	}
	call.Session.mu.Lock()
	call.Session.name = v.Str
	call.Session.mu.Unlock()
	return nil
}

func endSession(_ context.Context, call *Call) error {
	call.Server.endSession(call.Session.ID)
	return nil
}

// badParam reports a parameter error and fails the action.
func badParam(call *Call, format string, args ...any) error {
	if err := call.Errorf(format, args...); err != nil {
		return err
	}
	call.Fail(errBadParameter, wrongType)
	return nil
}

// slot is one parameter of the actionTest.testparms signature.
type slot struct {
	name string
	kind cas.Kind
}

var slotKinds = []slot{
	{"i32", cas.KindInt32},
	{"i64", cas.KindInt64},
	{"dbl", cas.KindDouble},
	{"str", cas.KindString},
	{"flag", cas.KindBool},
	{"blob", cas.KindBinary},
	{"lst", cas.KindList},
	{"any", cas.KindNil},
}

// testParms checks each parameter against a typed signature, applying the
// server's coercion rules, and echoes the coerced values.
func testParms(_ context.Context, call *Call) error {
	var out cas.ParamList
	failed, unparsable := false, false
	for _, p := range call.Params {
		i := slices.IndexFunc(slotKinds, func(s slot) bool { return strings.EqualFold(s.name, p.Name) })
		if i < 0 {
			if err := call.Errorf("Parameter '%s' is not recognized.", p.Name); err != nil {
				return err
			}
			failed = true
			continue
		}
		want := slotKinds[i].kind
		v, ok := coerce(p.Value, want)
		if !ok {
			if err := call.Errorf("An attempt was made to convert parameter '%s' from %s to %s, but the conversion failed.", p.Name, p.Value.Kind, want); err != nil {
				return err
			}
			if p.Value.Kind == cas.KindString && want == cas.KindDouble {
				unparsable = true
			}
			failed = true
			continue
		}
		out = append(out, cas.Param{Name: p.Name, Value: v})
	}
	switch {
	case unparsable:
		call.Fail(errBadParameter, parseError)
		return nil
	case failed:
		call.Fail(errBadParameter, wrongType)
		return nil
	}
	for _, p := range out {
		if err := call.Value(p.Name, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// coerce converts v for a slot of kind want. Booleans never fill numeric or
// string slots and numbers never fill string slots; numeric strings fill
// numeric slots. A boolean slot takes only 0, 1, "true" or "false".
func coerce(v cas.Value, want cas.Kind) (cas.Value, bool) {
	if want == cas.KindNil {
		return v, true
	}
	switch want {
	case cas.KindInt32, cas.KindInt64, cas.KindDouble:
		var f float64
		switch v.Kind {
		case cas.KindInt32, cas.KindInt64:
			f = float64(v.Int)
		case cas.KindDouble:
			f = v.Double
		case cas.KindString:
			n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
			if err != nil {
				return cas.Value{}, false
			}
			f = n
		default:
			return cas.Value{}, false
		}
		switch want {
		case cas.KindDouble:
			return cas.Double(f), true
		case cas.KindInt32:
			if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
				return cas.Value{}, false
			}
			return cas.Int32(int32(f)), true
		default:
			if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
				return cas.Value{}, false
			}
			return cas.Int64(int64(f)), true
		}
	case cas.KindString:
		return v, v.Kind == cas.KindString
	case cas.KindBool:
		switch v.Kind {
		case cas.KindBool:
			return v, true
		case cas.KindInt32, cas.KindInt64:
			if v.Int == 0 || v.Int == 1 {
				return cas.Bool(v.Int == 1), true
			}
		case cas.KindString:
			switch s := strings.TrimSpace(v.Str); {
			case strings.EqualFold(s, "true"):
				return cas.Bool(true), true
			case strings.EqualFold(s, "false"):
				return cas.Bool(false), true
			}
		}
		return cas.Value{}, false
	case cas.KindBinary:
		return v, v.Kind == cas.KindBinary
	case cas.KindList:
		switch v.Kind {
		case cas.KindList:
			return v, true
		case cas.KindTable:
			return v, len(v.Table) == 0
		}
		// a scalar fills a list slot as a one-item list
		return cas.List(v), v.Kind != cas.KindNil
	}
	return cas.Value{}, false
}

func sleep(ctx context.Context, call *Call) error {
	v, _ := call.Param("duration")
	d, ok := coerce(v, cas.KindDouble)
	if !ok {
		return badParam(call, "Parameter 'duration' must be a number of seconds.")
	}
	if err := call.Notef("Sleeping for %g seconds.", d.Double); err != nil {
		return err
	}
	timer := time.NewTimer(time.Duration(d.Double * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return call.Value("slept", d)
}

func events(_ context.Context, call *Call) error {
	if err := call.Value("$progress", cas.Double(0.5)); err != nil {
		return err
	}
	if err := call.Value("result", cas.String("partial")); err != nil {
		return err
	}
	if err := call.Flush(); err != nil {
		return err
	}
	if err := call.Value("$progress", cas.Double(1)); err != nil {
		return err
	}
	return call.Replace("result", cas.String("done"))
}

func restart(_ context.Context, call *Call) error {
	if err := call.Notef("Starting attempt 1."); err != nil {
		return err
	}
	if err := call.Value("attempt", cas.Int32(1)); err != nil {
		return err
	}
	if err := call.Flush(cas.FlagActionRestart); err != nil {
		return err
	}
	if err := call.Notef("Starting attempt 2."); err != nil {
		return err
	}
	return call.Value("attempt", cas.Int32(2))
}

func fail(_ context.Context, call *Call) error {
	severity := cas.SeverityError
	if v, ok := call.Param("severity"); ok {
		if n, ok := coerce(v, cas.KindInt32); ok {
			severity = int(n.Int)
		}
	}
	status := "The action failed."
	if v, ok := call.Param("status"); ok && v.Kind == cas.KindString {
		status = v.Str
	}
	switch severity {
	case cas.SeverityWarning:
		return call.Warningf("%s", status)
	case cas.SeverityError:
		if err := call.Errorf("%s", status); err != nil {
			return err
		}
		call.Fail(errActionFailed, status)
		call.disp.Debug = "0x887ff82e:TKCASA_GEN_ACTION_FAILED"
	}
	return nil
}
