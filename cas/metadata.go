// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cas

// Well-known metadata keys used by the native protocol. Request and frame
// keys appear as custom_metadata on Arrow IPC RecordBatch messages; table
// keys appear on the schema, column keys on each field.
const (
	MetaAction         = "cas.action"
	MetaSession        = "cas.session"
	MetaRequestID      = "cas.request_id"
	MetaRequestVersion = "cas.request_version"
	MetaFrame          = "cas.frame"
	MetaLogMessage     = "cas.log_message"
	MetaResultKey      = "cas.result_key"
	MetaResultKind     = "cas.result_kind"
	MetaReplace        = "cas.replace"
	MetaSeverity       = "cas.severity"
	MetaReason         = "cas.reason"
	MetaStatus         = "cas.status"
	MetaStatusCode     = "cas.status_code"
	MetaDebug          = "cas.debug"
	MetaPerformance    = "cas.performance"
	MetaUpdateFlags    = "cas.update_flags"
	MetaFinal          = "cas.final"
	MetaSessionName    = "cas.session_name"

	MetaTableName  = "cas.table.name"
	MetaTableLabel = "cas.table.label"
	MetaTableTitle = "cas.table.title"
	MetaTableAttrs = "cas.table.attributes"

	MetaColumnType   = "cas.type"
	MetaColumnWidth  = "cas.width"
	MetaColumnFormat = "cas.format"
	MetaColumnLabel  = "cas.label"

	ProtocolVersion = "1"
)

// Frame kinds carried in MetaFrame.
const (
	frameLog      = "log"
	frameResult   = "result"
	frameResponse = "response"

	resultTable = "table"
	resultValue = "value"
)

// Table attribute names set by the server.
const (
	AttrAction       = "Action"
	AttrActionSet    = "ActionSet"
	AttrCreateTime   = "CreateTime"
	AttrByGroup      = "ByGroup"
	AttrByGroupIndex = "ByGroupIndex"
	AttrByGroupSet   = "ByGroupSet"
	AttrNumByGroups  = "NumByGroups"
)
