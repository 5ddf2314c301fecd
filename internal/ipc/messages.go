// Package ipc carries gateway requests between the client and the backend
// process as newline-delimited JSON over a Unix domain socket, or a named pipe
// on Windows.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/models"
)

// MessageType identifies the type of IPC message.
type MessageType string

const (
	// Request types (client -> server)
	MsgPing              MessageType = "Ping"
	MsgFetchMetadata     MessageType = "FetchMetadata"
	MsgUpload            MessageType = "Upload"
	MsgDownload          MessageType = "Download"
	MsgOffload           MessageType = "Offload"
	MsgDelete            MessageType = "Delete"
	MsgUpdateDescription MessageType = "UpdateDescription"
	MsgGetConfig         MessageType = "GetConfig"
	MsgUpdateConfig      MessageType = "UpdateConfig"
	MsgSelectFile        MessageType = "SelectFile"
	MsgSelectDirectory   MessageType = "SelectDirectory"
	MsgSubscribeEvents   MessageType = "SubscribeEvents"

	// Response types (server -> client)
	MsgOK       MessageType = "OK"
	MsgError    MessageType = "Error"
	MsgMetadata MessageType = "Metadata"
	MsgConfig   MessageType = "Config"
	MsgPath     MessageType = "Path"
	MsgEvent    MessageType = "Event"
)

// Error codes carried alongside MsgError so sentinel errors survive the wire.
const (
	CodeNotFound = "not_found"
)

// Request represents an IPC request from client to server.
type Request struct {
	Type        MessageType    `json:"type"`
	Name        string         `json:"name,omitempty"`
	Path        string         `json:"path,omitempty"`
	Description string         `json:"description,omitempty"`
	Config      *models.Config `json:"config,omitempty"`
}

// Response represents an IPC response from server to client.
type Response struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PathData is the result of a chooser request. Empty means cancelled.
type PathData struct {
	Path string `json:"path"`
}

// MetadataData is the result of FetchMetadata.
type MetadataData struct {
	Files []models.FileRecord `json:"files"`
}

// NewRequest creates a new IPC request.
func NewRequest(msgType MessageType) *Request {
	return &Request{Type: msgType}
}

// NewNamedRequest creates a request addressing one file.
func NewNamedRequest(msgType MessageType, name string) *Request {
	return &Request{Type: msgType, Name: name}
}

// NewOKResponse creates a success response.
func NewOKResponse() *Response {
	return &Response{Type: MsgOK, Success: true}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(err string) *Response {
	return &Response{Type: MsgError, Success: false, Error: err}
}

// NewMetadataResponse creates a file list response.
func NewMetadataResponse(files []models.FileRecord) *Response {
	if files == nil {
		files = []models.FileRecord{}
	}
	return &Response{Type: MsgMetadata, Success: true, Data: &MetadataData{Files: files}}
}

// NewConfigResponse creates a backend config response.
func NewConfigResponse(cfg models.Config) *Response {
	return &Response{Type: MsgConfig, Success: true, Data: &cfg}
}

// NewPathResponse creates a chooser response.
func NewPathResponse(path string) *Response {
	return &Response{Type: MsgPath, Success: true, Data: &PathData{Path: path}}
}

// NewEventResponse wraps a pushed event.
func NewEventResponse(ev gateway.Event) *Response {
	return &Response{Type: MsgEvent, Success: true, Data: &ev}
}

// Encode serializes a request to JSON.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Encode serializes a response to JSON.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest deserializes a request from JSON.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeResponse deserializes a response from JSON.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// convertData fills out from r.Data, which is either the typed value (in
// process) or a map[string]interface{} (after decoding).
func (r *Response) convertData(out interface{}) error {
	if r.Data == nil {
		return fmt.Errorf("%s response carries no data", r.Type)
	}
	// Re-marshal and unmarshal to convert
	data, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// GetMetadata extracts the file list from a Metadata response.
func (r *Response) GetMetadata() ([]models.FileRecord, error) {
	if v, ok := r.Data.(*MetadataData); ok {
		return v.Files, nil
	}
	var md MetadataData
	if err := r.convertData(&md); err != nil {
		return nil, err
	}
	if md.Files == nil {
		md.Files = []models.FileRecord{}
	}
	return md.Files, nil
}

// GetConfig extracts the backend config from a Config response.
func (r *Response) GetConfig() (models.Config, error) {
	if v, ok := r.Data.(*models.Config); ok {
		return *v, nil
	}
	var cfg models.Config
	err := r.convertData(&cfg)
	return cfg, err
}

// GetPath extracts the chosen path from a Path response.
func (r *Response) GetPath() (string, error) {
	if v, ok := r.Data.(*PathData); ok {
		return v.Path, nil
	}
	var pd PathData
	err := r.convertData(&pd)
	return pd.Path, err
}

// GetEvent extracts the pushed event from an Event response.
func (r *Response) GetEvent() (gateway.Event, error) {
	if v, ok := r.Data.(*gateway.Event); ok {
		return *v, nil
	}
	var ev gateway.Event
	err := r.convertData(&ev)
	return ev, err
}
