package bridge

import (
	"context"
	"fmt"
	"time"
)

// Orchestrator implements the compound command flows of §4.6: each is a
// sequential procedure that sends sub-commands through the Session
// correlator and awaits specific events, with no shared mutable state
// between concurrent compound invocations other than the peer socket
// (serialized by the Session) and the log pipeline (serialized by its own
// mutex) — see §5 "Concurrency of compound commands".
type Orchestrator struct {
	session  *Session
	logs     *LogPipeline
	timeouts Timeouts

	// lateCompilationWindow is the heuristic window (§9 Open Question) for
	// detecting a late compilation.started after play.exit. Tunable but
	// must stay non-trivial; zero regresses observed Unity behavior.
	lateCompilationWindow time.Duration
}

// NewOrchestrator wires an Orchestrator around a Session and LogPipeline.
func NewOrchestrator(session *Session, logs *LogPipeline, timeouts Timeouts) *Orchestrator {
	return &Orchestrator{
		session:               session,
		logs:                  logs,
		timeouts:              timeouts,
		lateCompilationWindow: 2 * time.Second,
	}
}

// Dispatch routes a top-level command to its compound flow or forwards it
// as a simple passthrough, applying the command's default deadline unless
// the caller supplies an override (the request's own `timeout` field).
func (o *Orchestrator) Dispatch(ctx context.Context, command string, args map[string]any, agentID string, timeoutOverride time.Duration) (*Response, error) {
	deadline := o.deadlineFor(command, args, timeoutOverride)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	switch command {
	case "asset.refresh":
		o.logs.Clear("asset-refresh")
		return o.assetRefresh(ctx, deadline)
	case "play.enter":
		return o.playEnter(ctx, deadline)
	case "play.exit":
		return o.playExit(ctx, deadline)
	case "test.run":
		return o.testRun(ctx, args)
	case "record.start":
		return o.recordStart(ctx, deadline, args)
	case "asset.import":
		return o.awaitedPassthrough(ctx, command, args, agentID, "asset.importComplete")
	case "asset.reimportAll":
		return o.awaitedPassthrough(ctx, command, args, agentID, "asset.reimportAllComplete")
	case "build.player":
		return o.session.Send(ctx, "script.execute", synthesizeBuildScript(args), agentID, time.Until(deadline))
	default:
		return o.session.Send(ctx, command, args, agentID, time.Until(deadline))
	}
}

func (o *Orchestrator) deadlineFor(command string, args map[string]any, override time.Duration) time.Time {
	if override > 0 {
		return time.Now().Add(override)
	}
	if isRecordCommand(command) {
		if d, ok := durationArg(args); ok {
			return time.Now().Add(o.timeouts.ForRecord(d))
		}
	}
	return time.Now().Add(o.timeouts.For(command))
}

func isRecordCommand(command string) bool {
	return command == "record.start" || command == "record.stop" || command == "record.status"
}

func durationArg(args map[string]any) (float64, bool) {
	if args == nil {
		return 0, false
	}
	v, ok := args["duration"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// okResponse builds a success ResponseMessage for a synthesized compound
// result (as opposed to one forwarded verbatim from the peer).
func okResponse(id string, result map[string]any) *Response {
	return &Response{ID: id, Status: "ok", Result: result}
}

// errResponse builds a synthesized error ResponseMessage; details are
// carried both as the response's result and as error.details.
func errResponse(id, code, message string, details map[string]any) *Response {
	return &Response{ID: id, Status: "error", Result: details, Error: &ResponseError{Code: code, Message: message, Details: details}}
}

// --- §4.6.1 asset.refresh ---

func (o *Orchestrator) assetRefresh(ctx context.Context, deadline time.Time) (*Response, error) {
	ack, err := o.session.Send(ctx, "asset.refresh", nil, "", time.Until(deadline))
	if err != nil {
		return nil, err
	}
	if !ack.IsOK() {
		return ack, nil
	}

	refreshDone, cancel := o.session.RegisterWaiter(func(e Event) bool { return e.Name == "asset.refreshComplete" })
	var complete Event
	select {
	case complete = <-refreshDone:
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("%w: awaiting asset.refreshComplete", ErrTimeout)
	}
	cancel()

	compilationTriggered, _ := complete.Payload["compilationTriggered"].(bool)
	hasCompilationErrors, _ := complete.Payload["hasCompilationErrors"].(bool)

	if hasCompilationErrors {
		return errResponse(ack.ID, "COMPILATION_ERROR", "existing compilation errors", map[string]any{
			"errors": o.scanExistingCompilationErrors(),
		}), nil
	}

	if !compilationTriggered {
		return okResponse(ack.ID, map[string]any{
			"compilationTriggered": false,
			"compilationSuccess":   true,
		}), nil
	}

	finishedCh, cancel := o.session.RegisterWaiter(func(e Event) bool { return e.Name == "compilation.finished" })
	var finished Event
	select {
	case finished = <-finishedCh:
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("%w: awaiting compilation.finished", ErrTimeout)
	}
	cancel()

	success, _ := finished.Payload["success"].(bool)
	errorsList := finished.Payload["errors"]
	warningsList := finished.Payload["warnings"]

	if !success {
		return errResponse(ack.ID, "COMPILATION_ERROR", "compilation failed", map[string]any{
			"errors":   errorsList,
			"warnings": warningsList,
		}), nil
	}

	return okResponse(ack.ID, map[string]any{
		"compilationTriggered": true,
		"compilationSuccess":   true,
		"errors":               errorsList,
		"warnings":             warningsList,
	}), nil
}

// scanExistingCompilationErrors surfaces console-source error/exception
// log entries as a best-effort substitute for a dedicated introspection
// event (§4.6.1 step 3 leaves the exact source open).
func (o *Orchestrator) scanExistingCompilationErrors() []map[string]any {
	tail := o.logs.Tail(0, LogSourceConsole, true)
	var out []map[string]any
	for _, e := range tail.Entries {
		if e.Level == LogLevelError || e.Level == LogLevelException {
			out = append(out, map[string]any{
				"message": e.Message,
				"stack":   e.StackTrace,
			})
		}
	}
	return out
}

// --- §4.6.2 play.enter ---

func (o *Orchestrator) playEnter(ctx context.Context, deadline time.Time) (*Response, error) {
	status, err := o.session.Send(ctx, "play.status", nil, "", time.Until(deadline))
	if err != nil {
		return nil, err
	}
	if status.IsOK() {
		if playing, _ := status.Result["playing"].(bool); playing {
			return okResponse(status.ID, map[string]any{"state": "AlreadyPlaying"}), nil
		}
	}

	o.logs.Clear("entered-play-mode")

	if refreshResp, err := o.assetRefresh(ctx, deadline); err != nil {
		return nil, err
	} else if !refreshResp.IsOK() {
		return refreshResp, nil
	}

	enterAck, err := o.session.Send(ctx, "play.enter", nil, "", time.Until(deadline))
	if err != nil {
		return nil, err
	}
	if !enterAck.IsOK() {
		return enterAck, nil
	}

	return o.awaitPlayModeEntered(ctx, deadline, enterAck.ID)
}

func (o *Orchestrator) awaitPlayModeEntered(ctx context.Context, deadline time.Time, respID string) (*Response, error) {
	sawExiting := false
	for {
		changed, cancel := o.session.RegisterWaiter(func(e Event) bool { return e.Name == "playModeChanged" })
		var e Event
		select {
		case e = <-changed:
		case <-ctx.Done():
			cancel()
			// The wait ends only on a terminal playModeChanged event or the
			// deadline; play.status is not re-probed after a peer reconnect.
			return nil, fmt.Errorf("%w: awaiting playModeChanged", ErrTimeout)
		}
		cancel()

		state, _ := e.Payload["state"].(string)
		switch state {
		case "ExitingEditMode":
			sawExiting = true
		case "EnteredPlayMode":
			return okResponse(respID, map[string]any{"state": "EnteredPlayMode"}), nil
		case "EnteredEditMode":
			if sawExiting {
				return errResponse(respID, "PLAY_MODE_FAILED", "play mode entry bounced back", map[string]any{
					"state": "PlayModeEntryFailed",
				}), nil
			}
		}
	}
}

// --- §4.6.3 play.exit ---

func (o *Orchestrator) playExit(ctx context.Context, deadline time.Time) (*Response, error) {
	ack, err := o.session.Send(ctx, "play.exit", nil, "", time.Until(deadline))
	if err != nil {
		return nil, err
	}
	if !ack.IsOK() {
		return ack, nil
	}

	exiting, err := WaitEvent(ctx, o.session, time.Until(deadline), func(e Event) bool {
		return e.Name == "playModeChanged"
	})
	if err != nil {
		return nil, err
	}
	compilationTriggered, _ := exiting.Payload["compilationTriggered"].(bool)

	if !compilationTriggered {
		lateCtx, cancel := context.WithTimeout(ctx, o.lateCompilationWindow)
		defer cancel()
		if _, err := WaitEvent(lateCtx, o.session, 0, func(e Event) bool { return e.Name == "compilation.started" }); err == nil {
			compilationTriggered = true
		}
	}

	result := map[string]any{"state": "ExitingPlayMode", "compilationTriggered": compilationTriggered}

	if compilationTriggered {
		finished, err := WaitEvent(ctx, o.session, time.Until(deadline), func(e Event) bool {
			return e.Name == "compilation.finished"
		})
		if err != nil {
			return nil, err
		}
		success, _ := finished.Payload["success"].(bool)
		result["compilationSuccess"] = success
	}

	return okResponse(ack.ID, result), nil
}

// --- §4.6.4 test.run ---

func (o *Orchestrator) testRun(ctx context.Context, args map[string]any) (*Response, error) {
	deadline, _ := ctx.Deadline()
	ack, err := o.session.Send(ctx, "test.run", args, "", time.Until(deadline))
	if err != nil {
		return nil, err
	}
	if !ack.IsOK() {
		return ack, nil
	}
	testRunID, _ := ack.Result["testRunId"]

	finished, err := WaitEvent(ctx, o.session, time.Until(deadline), func(e Event) bool {
		if e.Name != "test.finished" {
			return false
		}
		if testRunID == nil {
			return true
		}
		return e.Payload["testRunId"] == testRunID
	})
	if err != nil {
		return nil, err
	}
	return okResponse(ack.ID, finished.Payload), nil
}

// --- §4.6.5 record.start ---

func (o *Orchestrator) recordStart(ctx context.Context, deadline time.Time, args map[string]any) (*Response, error) {
	status, err := o.session.Send(ctx, "play.status", nil, "", time.Until(deadline))
	if err != nil {
		return nil, err
	}
	playing := false
	if status.IsOK() {
		playing, _ = status.Result["playing"].(bool)
	}

	if !playing {
		o.logs.Clear("entered-play-mode")
		if refreshResp, err := o.assetRefresh(ctx, deadline); err != nil {
			return nil, err
		} else if !refreshResp.IsOK() {
			return refreshResp, nil
		}
		enterAck, err := o.session.Send(ctx, "play.enter", nil, "", time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if !enterAck.IsOK() {
			return enterAck, nil
		}
		if resp, err := o.awaitPlayModeEntered(ctx, deadline, enterAck.ID); err != nil {
			return nil, err
		} else if !resp.IsOK() {
			return resp, nil
		}
	}

	ack, err := o.session.Send(ctx, "record.start", args, "", time.Until(deadline))
	if err != nil {
		return nil, err
	}
	if !ack.IsOK() {
		return ack, nil
	}

	if _, ok := durationArg(args); ok {
		recordingID := ack.Result["recordingId"]
		finished, err := WaitEvent(ctx, o.session, time.Until(deadline), func(e Event) bool {
			if e.Name != "record.finished" {
				return false
			}
			if recordingID == nil {
				return true
			}
			return e.Payload["recordingId"] == recordingID
		})
		if err != nil {
			return nil, err
		}
		return okResponse(ack.ID, finished.Payload), nil
	}

	return ack, nil
}

// --- §4.6.6 awaited passthroughs ---

func (o *Orchestrator) awaitedPassthrough(ctx context.Context, command string, args map[string]any, agentID, completionEvent string) (*Response, error) {
	deadline, _ := ctx.Deadline()
	ack, err := o.session.Send(ctx, command, args, agentID, time.Until(deadline))
	if err != nil {
		return nil, err
	}
	if !ack.IsOK() {
		return ack, nil
	}
	done, err := WaitEvent(ctx, o.session, time.Until(deadline), func(e Event) bool { return e.Name == completionEvent })
	if err != nil {
		return nil, err
	}
	return okResponse(ack.ID, done.Payload), nil
}

// synthesizeBuildScript turns build.player's declarative args into the
// script.execute args the peer understands (§4.6.6: "alias of
// script.execute with a synthesized build script").
func synthesizeBuildScript(args map[string]any) map[string]any {
	target, _ := args["target"].(string)
	if target == "" {
		target = "StandaloneWindows64"
	}
	outputPath, _ := args["outputPath"].(string)
	if outputPath == "" {
		outputPath = "Builds/build"
	}
	script := fmt.Sprintf(
		"UnityEditor.BuildPipeline.BuildPlayer(UnityEditor.EditorBuildSettings.scenes, %q, UnityEditor.BuildTarget.%s, UnityEditor.BuildOptions.None);",
		outputPath, target,
	)
	return map[string]any{"script": script}
}
