package http

import (
	"nsmeta/pkg/directory"
	"nsmeta/pkg/metadata"
	"nsmeta/pkg/types"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status `json:"status,omitempty"`
	Value  string `json:"value,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value string) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewDataResponse(data any) Response {
	return Response{Status: StatusSuccess, Data: data}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// createTableRequest is the body of POST /api/tables.
type createTableRequest struct {
	Name       metadata.Name       `json:"name"`
	Database   types.DatabaseID    `json:"database"`
	PrimaryKey metadata.PrimaryKey `json:"primary_key"`
}

type tableSummary struct {
	ID         types.NamespaceID   `json:"id"`
	Name       metadata.Name       `json:"name"`
	Database   metadata.Ref        `json:"database"`
	PrimaryKey metadata.PrimaryKey `json:"primary_key"`
	Conflicts  []string            `json:"conflicts,omitempty"`
}

func newTableSummary(e metadata.Entry) tableSummary {
	return tableSummary{
		ID:         e.ID,
		Name:       e.Table.Name.Value(),
		Database:   e.Table.Database.Value(),
		PrimaryKey: e.Table.PrimaryKey.Value(),
		Conflicts:  e.Table.Conflicts(),
	}
}

type tableView struct {
	ID     types.NamespaceID    `json:"id"`
	Fields []metadata.FieldView `json:"fields"`
}

type announcementView struct {
	Origin  types.NodeID      `json:"origin"`
	Table   types.NamespaceID `json:"table"`
	Seq     types.SeqN        `json:"seq"`
	Payload []byte            `json:"payload"`
}

func newAnnouncementView(a directory.Announcement) announcementView {
	return announcementView{Origin: a.Origin, Table: a.Table, Seq: a.Seq, Payload: a.Payload}
}

type healthView struct {
	Node    types.NodeID   `json:"node"`
	Tables  int            `json:"tables"`
	Writers []types.NodeID `json:"writers"`
}
