package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tanged123/hermes/internal/xerror"
)

// Backplane is the narrow read/write surface the control server needs,
// matching spec.md §9's "server holds a non-owning handle" guidance:
// the server never owns segment lifetime.
type Backplane interface {
	SignalNames() []string
	GetSignal(name string) (float64, error)
	SetSignal(name string, value float64) error
}

// SchedulerHandle is the narrow scheduler surface the control server
// is permitted to call: pause/resume/reset/step and frame inspection,
// nothing that would let the server own the scheduler's lifecycle.
type SchedulerHandle interface {
	Pause()
	Resume()
	Reset()
	Step(n int) error
	Frame() uint64
}

// dispatchResult is what handling one command produces: a reply to
// send back to the originating client, and an optional event to
// broadcast to every client.
type dispatchResult struct {
	Reply     any
	Broadcast *eventMessage
}

// dispatch interprets one decoded command envelope against bp and
// sched (sched may be nil, meaning "no scheduler attached") and
// returns the result without touching any transport. Kept separate
// from Server so it is exercised directly in tests, per spec.md §8's
// testable-properties requirement for the command dispatch table.
func dispatch(cmd commandEnvelope, bp Backplane, sched SchedulerHandle) dispatchResult {
	switch cmd.Action {
	case "subscribe":
		return dispatchSubscribe(cmd, bp)
	case "pause":
		return dispatchScheduler(cmd, sched, func() { sched.Pause() }, "paused")
	case "resume":
		return dispatchScheduler(cmd, sched, func() { sched.Resume() }, "running")
	case "reset":
		return dispatchScheduler(cmd, sched, func() { sched.Reset() }, "reset")
	case "step":
		return dispatchStep(cmd, sched)
	case "set":
		return dispatchSet(cmd, bp)
	default:
		return dispatchResult{Reply: newErrorMessage(fmt.Sprintf("unknown action: %s", cmd.Action), "")}
	}
}

func dispatchSubscribe(cmd commandEnvelope, bp Backplane) dispatchResult {
	var params subscribeParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return dispatchResult{Reply: newErrorMessage("invalid subscribe params: "+err.Error(), "")}
	}

	signals := expandPatterns(params.Signals, bp.SignalNames())
	return dispatchResult{Reply: subscribeAck{
		ackMessage: ackMessage{Type: "ack", Action: "subscribe", Count: len(signals), Signals: signals},
		signals:    signals,
	}}
}

// subscribeAck carries the resolved signal list alongside the JSON
// reply so the caller (Server) can install the client's encoder
// without re-parsing its own response.
type subscribeAck struct {
	ackMessage
	signals []string
}

func dispatchScheduler(cmd commandEnvelope, sched SchedulerHandle, apply func(), event string) dispatchResult {
	if sched == nil {
		return dispatchResult{Reply: newErrorMessage("No scheduler attached", "")}
	}
	apply()
	return dispatchResult{
		Reply:     ackMessage{Type: "ack", Action: cmd.Action},
		Broadcast: &eventMessage{Type: "event", Event: event},
	}
}

func dispatchStep(cmd commandEnvelope, sched SchedulerHandle) dispatchResult {
	if sched == nil {
		return dispatchResult{Reply: newErrorMessage("No scheduler attached", "")}
	}
	var params stepParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return dispatchResult{Reply: newErrorMessage("invalid step params: "+err.Error(), "")}
		}
	}
	count := params.Count
	if count <= 0 {
		count = 1
	}
	if err := sched.Step(count); err != nil {
		return dispatchResult{Reply: newErrorMessage(err.Error(), "")}
	}
	return dispatchResult{Reply: ackMessage{Type: "ack", Action: "step", Frame: sched.Frame()}}
}

func dispatchSet(cmd commandEnvelope, bp Backplane) dispatchResult {
	var params setParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return dispatchResult{Reply: newErrorMessage("invalid set params: "+err.Error(), "")}
	}
	if err := bp.SetSignal(params.Signal, params.Value); err != nil {
		var notFound *xerror.SignalNotFound
		if errors.As(err, &notFound) {
			return dispatchResult{Reply: newErrorMessage("Unknown signal: "+params.Signal, "")}
		}
		return dispatchResult{Reply: newErrorMessage(err.Error(), "")}
	}
	return dispatchResult{Reply: ackMessage{Type: "ack", Action: "set"}}
}
