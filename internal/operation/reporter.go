package operation

// reporter is the concrete Reporter bound to one Operation. It never
// touches the Operation's status directly — that's the engine's job on
// the work item's return — it only narrates.
type reporter struct {
	op *Operation
}

func indentOf(indent []int) int {
	if len(indent) == 0 {
		return 0
	}

	return indent[0]
}

func (r *reporter) message(kind MessageKind, text string, indent []int) {
	r.op.emit(Event{Message: &Message{Kind: kind, Text: text, Indent: indentOf(indent)}})
}

func (r *reporter) Info(text string, indent ...int)    { r.message(MessageInfo, text, indent) }
func (r *reporter) Success(text string, indent ...int) { r.message(MessageSuccess, text, indent) }
func (r *reporter) Warning(text string, indent ...int) { r.message(MessageWarning, text, indent) }
func (r *reporter) Error(text string, indent ...int)   { r.message(MessageError, text, indent) }
func (r *reporter) Dim(text string, indent ...int)     { r.message(MessageDim, text, indent) }
func (r *reporter) Hint(text string, indent ...int)    { r.message(MessageHint, text, indent) }

func (r *reporter) ProgressStart(id, description string, total uint64, indent ...int) {
	r.op.emit(Event{ProgressStarted: &ProgressStarted{
		ID:          id,
		Description: description,
		Total:       total,
		Indent:      indentOf(indent),
	}})
}

func (r *reporter) ProgressUpdate(id string, current uint64, rate ...float64) {
	var rv float64
	if len(rate) > 0 {
		rv = rate[0]
	}

	r.op.emit(Event{ProgressUpdate: &ProgressUpdate{ID: id, Current: current, Rate: rv}})
}

func (r *reporter) ProgressEnd(id string, success bool, message ...string) {
	var msg string
	if len(message) > 0 {
		msg = message[0]
	}

	r.op.emit(Event{ProgressCompleted: &ProgressCompleted{ID: id, Success: success, Message: msg}})
}

func (r *reporter) Cancelled() bool {
	r.op.mu.Lock()
	defer r.op.mu.Unlock()
	return r.op.cancelled
}
