// oreon/appshell · watchthelight <wtl>

package events

// TransitionBuilder is a typed builder for lifecycle transition events.
type TransitionBuilder struct {
	*Builder
}

// StartTransition creates a new lifecycle transition event builder.
func StartTransition(fromState, toState string) *TransitionBuilder {
	b := Start(EventTypeTransition, "lifecycle")
	b.Set(FieldFromState, fromState)
	b.Set(FieldToState, toState)
	return &TransitionBuilder{Builder: b}
}

// Reason sets the event that caused the transition.
func (b *TransitionBuilder) Reason(reason string) *TransitionBuilder {
	b.Set(FieldReason, reason)
	return b
}

// ExitCode sets the exit code carried by a terminating transition.
func (b *TransitionBuilder) ExitCode(code int) *TransitionBuilder {
	b.Set(FieldExitCode, code)
	return b
}

// WindowBuilder is a typed builder for window action events.
type WindowBuilder struct {
	*Builder
}

// StartWindowAction creates a new window action event builder.
func StartWindowAction(window, action string) *WindowBuilder {
	b := Start(EventTypeWindow, "window")
	b.Set(FieldWindow, window)
	b.Set(FieldAction, action)
	return &WindowBuilder{Builder: b}
}

// Decision sets the exit decision applied to a close or exit request.
func (b *WindowBuilder) Decision(decision string) *WindowBuilder {
	b.Set(FieldDecision, decision)
	return b
}

// UpdateBuilder is a typed builder for update orchestrator events.
type UpdateBuilder struct {
	*Builder
}

// StartUpdate creates a new update event builder for one orchestrator operation.
func StartUpdate(op, sessionID string) *UpdateBuilder {
	b := Start(EventTypeUpdate, "updater")
	b.Set(FieldUpdateOp, op)
	if sessionID != "" {
		b.Set(FieldSessionID, sessionID)
	}
	return &UpdateBuilder{Builder: b}
}

// Session sets the session ID once it is known.
func (b *UpdateBuilder) Session(id string) *UpdateBuilder {
	b.Set(FieldSessionID, id)
	return b
}

// Version sets the release version involved.
func (b *UpdateBuilder) Version(version string) *UpdateBuilder {
	b.Set(FieldVersion, version)
	return b
}

// Available sets whether a newer release was found.
func (b *UpdateBuilder) Available(available bool) *UpdateBuilder {
	b.Set(FieldAvailable, available)
	return b
}

// Bytes sets the transferred and expected byte counts.
func (b *UpdateBuilder) Bytes(done, total int64) *UpdateBuilder {
	b.Set(FieldBytes, done)
	b.Set(FieldTotalBytes, total)
	return b
}

// InstanceBuilder is a typed builder for single-instance signal events.
type InstanceBuilder struct {
	*Builder
}

// StartInstanceSignal creates a new builder for a second-launch signal.
func StartInstanceSignal(peerPID int) *InstanceBuilder {
	b := Start(EventTypeInstance, "instance")
	b.Set(FieldPeerPID, peerPID)
	return &InstanceBuilder{Builder: b}
}

// Notified records whether the user notification was delivered.
func (b *InstanceBuilder) Notified(ok bool) *InstanceBuilder {
	b.Set(FieldNotified, ok)
	return b
}

// IPCRequestBuilder is a typed builder for IPC request events.
type IPCRequestBuilder struct {
	*Builder
}

// StartIPCRequest creates a new IPC request event builder.
func StartIPCRequest(command, requestID string) *IPCRequestBuilder {
	b := Start(EventTypeIPCRequest, "ipc")
	b.Set(FieldCommand, command)
	b.Set(FieldRequestID, requestID)
	return &IPCRequestBuilder{Builder: b}
}

// ClientVersion sets the client protocol version.
func (b *IPCRequestBuilder) ClientVersion(version int) *IPCRequestBuilder {
	b.Set(FieldClientVersion, version)
	return b
}

// ResponseSize sets the response size in bytes.
func (b *IPCRequestBuilder) ResponseSize(bytes int) *IPCRequestBuilder {
	b.Set(FieldResponseSize, bytes)
	return b
}

// StartTrayAction creates a builder for a tray menu or icon action.
func StartTrayAction(item string) *Builder {
	return Start(EventTypeTrayAction, "tray").Set(FieldMenuItem, item)
}

// StartAutostart creates a builder for a launch-at-login change.
func StartAutostart(enabled bool) *Builder {
	return Start(EventTypeAutostart, "autostart").Set(FieldEnabled, enabled)
}
