// oreon/appshell · watchthelight <wtl>

// Package ipc defines the JSON-lines protocol spoken over the shell's control
// socket. The socket doubles as the single-instance lock: a second launch
// dials it instead of starting a new shell.
package ipc

import (
	"encoding/json"
	"errors"
)

// ProtocolVersion is bumped on incompatible wire changes. Version 0 in a
// request means a client that predates versioning and is accepted.
const ProtocolVersion = 1

// Commands understood by the control socket.
const (
	CmdPing             = "ping"
	CmdStatus           = "status"
	CmdSubscribe        = "subscribe"
	CmdShow             = "show"
	CmdQuit             = "quit"
	CmdSecondInstance   = "second_instance"
	CmdCloseSplash      = "close_splashscreen"
	CmdCloseWindow      = "close_window"
	CmdUpdateCheck      = "update_check"
	CmdUpdateDownload   = "update_download"
	CmdUpdateCancel     = "update_cancel"
	CmdUpdateInstall    = "update_install"
	CmdUpdateClearCache = "update_clear_cache"
)

// Pushed event names, sent to subscribed connections with ID set to the name.
const (
	EventStateChange    = "state_change"
	EventUpdateProgress = "update_progress"
	EventUpdateDone     = "update_done"
)

// Error codes carried in Response.Code.
const (
	CodeNotFound     = "not_found"
	CodeNetwork      = "network"
	CodeIntegrity    = "integrity"
	CodeInstall      = "install"
	CodePrecondition = "precondition"
	CodeInternal     = "internal"
)

// Request is one line sent by a client.
type Request struct {
	Version int             `json:"version,omitempty"`
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is one line sent by the server, either in reply to a Request or
// pushed to subscribers as an event.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// UnmarshalData decodes the response payload into v.
func (r *Response) UnmarshalData(v interface{}) error {
	if len(r.Data) == 0 {
		return errors.New("response has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// SecondInstanceArgs is sent by a launch that lost the single-instance race.
type SecondInstanceArgs struct {
	PID  int      `json:"pid"`
	Args []string `json:"args,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`
}

// WindowArgs names a window for close_window.
type WindowArgs struct {
	Window string `json:"window"`
}

// CloseResponse carries the lifecycle decision for a close request.
type CloseResponse struct {
	Decision string `json:"decision"`
}

// SessionArgs names the update session an operation applies to. An empty
// SessionID selects the current session.
type SessionArgs struct {
	SessionID string `json:"session_id,omitempty"`
}

// StatusResponse describes the running shell.
type StatusResponse struct {
	State       string       `json:"state"`
	Version     string       `json:"version"`
	PID         int          `json:"pid"`
	MainVisible bool         `json:"main_visible"`
	Windows     []string     `json:"windows,omitempty"`
	Session     *SessionInfo `json:"session,omitempty"`
	LastJournal string       `json:"last_journal,omitempty"`
}

// SessionInfo mirrors an update session for clients.
type SessionInfo struct {
	ID         string `json:"id"`
	Available  bool   `json:"available"`
	Version    string `json:"version,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Phase      string `json:"phase"`
	Downloaded int64  `json:"downloaded"`
	Total      int64  `json:"total"`
}

// CheckResponse is the result of update_check.
type CheckResponse struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// StateChangeEvent is pushed when the lifecycle state changes.
type StateChangeEvent struct {
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
}

// ProgressEvent is pushed for each download progress step.
type ProgressEvent struct {
	SessionID  string `json:"session_id"`
	Downloaded int64  `json:"downloaded"`
	Total      int64  `json:"total"`
	Percent    int    `json:"percent"`
}

// DoneEvent is pushed once a download finishes, successfully or not. It is
// always the last event for its session's download.
type DoneEvent struct {
	SessionID string `json:"session_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}
