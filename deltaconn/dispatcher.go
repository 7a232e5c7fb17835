package deltaconn

// Dispatcher routes forward messages to typed callbacks. Register its
// Dispatch method with Manager.OnMessage to fan a stream out.
type Dispatcher struct {
	onNewSession     func(NewSessionEvent)
	onDelta          func(DeltaEvent)
	onScriptFinished func(ScriptFinishedEvent)
	onSessionEvent   func(SessionEvent)
	onError          func(error)
}

func (d *Dispatcher) SetOnNewSession(fn func(NewSessionEvent))         { d.onNewSession = fn }
func (d *Dispatcher) SetOnDelta(fn func(DeltaEvent))                   { d.onDelta = fn }
func (d *Dispatcher) SetOnScriptFinished(fn func(ScriptFinishedEvent)) { d.onScriptFinished = fn }
func (d *Dispatcher) SetOnSessionEvent(fn func(SessionEvent))          { d.onSessionEvent = fn }
func (d *Dispatcher) SetOnError(fn func(error))                        { d.onError = fn }

func (d *Dispatcher) Dispatch(msg *ForwardMsg) {
	if msg == nil {
		return
	}
	switch msg.Type {
	case forwardNewSession:
		if d.onNewSession == nil {
			return
		}
		var ev NewSessionEvent
		if err := UnmarshalData(msg.Data, &ev); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal new_session", err))
			return
		}
		d.onNewSession(ev)
	case forwardDelta:
		if d.onDelta == nil {
			return
		}
		var p DeltaPayload
		if err := UnmarshalData(msg.Data, &p); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal delta", err))
			return
		}
		ev := DeltaEvent{Kind: p.Kind, Element: p.Element}
		if msg.Metadata != nil {
			ev.Path = msg.Metadata.DeltaPath
		}
		d.onDelta(ev)
	case forwardScriptFinished:
		if d.onScriptFinished == nil {
			return
		}
		var ev ScriptFinishedEvent
		if err := UnmarshalData(msg.Data, &ev); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal script_finished", err))
			return
		}
		d.onScriptFinished(ev)
	case forwardSessionEvent:
		if d.onSessionEvent == nil {
			return
		}
		var ev SessionEvent
		if err := UnmarshalData(msg.Data, &ev); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal session_event", err))
			return
		}
		d.onSessionEvent(ev)
	}
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}
