package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentcore/runtime/internal/runtime"
)

// rpcConn is one live connection: a read loop decoding JSON-RPC requests, a
// write loop draining a buffered send channel, and a background forwarder
// per subscribed session turning bus events into notifications.
type rpcConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	id     string

	mu   sync.Mutex
	subs map[string]func() // session id -> unsubscribe, for events this connection forwards
}

func (c *rpcConn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *rpcConn) close() {
	c.cancel()

	c.mu.Lock()
	for _, unsub := range c.subs {
		unsub()
	}
	c.subs = nil
	c.mu.Unlock()

	// send is deliberately never closed: event-forwarding goroutines may
	// still be draining their subscriptions, and enqueue/writeLoop both bail
	// out on the cancelled context instead.
	_ = c.conn.Close()
}

func (c *rpcConn) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.writeResponse(errorResponse(nil, CodeParseError, err.Error()))
			continue
		}
		c.dispatch(req)
	}
}

func (c *rpcConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *rpcConn) enqueue(v any) {
	if c.ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		// Send buffer full: drop rather than block the read loop, matching
		// the bus's own backpressure policy of dropping for a slow consumer
		// instead of stalling the broadcaster.
	}
}

func (c *rpcConn) writeResponse(resp Response) { c.enqueue(resp) }

func (c *rpcConn) dispatch(req Request) {
	if req.Method == "" {
		c.writeResponse(errorResponse(req.ID, CodeInvalidRequest, "method is required"))
		return
	}

	handler, ok := methodTable[req.Method]
	if !ok {
		c.writeResponse(errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
		return
	}

	result, rpcErr := handler(c, req.Params)
	if rpcErr != nil {
		c.writeResponse(errorResponse(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}
	c.writeResponse(resultResponse(req.ID, result))
}

// methodTable maps method names to handlers. A package-level map (not a
// switch) so new methods are additions, not edits to a dispatch switch.
var methodTable = map[string]func(*rpcConn, json.RawMessage) (any, *Error){
	"session/start":  (*rpcConn).handleSessionStart,
	"session/branch": (*rpcConn).handleSessionBranch,
	"session/compact": (*rpcConn).handleSessionCompact,
	"session/list":   (*rpcConn).handleSessionList,
	"session/delete": (*rpcConn).handleSessionDelete,
	"agent/prompt":   (*rpcConn).handleAgentPrompt,
	"agent/steer":    (*rpcConn).handleAgentSteer,
	"agent/abort":    (*rpcConn).handleAgentAbort,
	"agent/state":    (*rpcConn).handleAgentState,
	"model/set":      (*rpcConn).handleModelSet,
	"models/list":    (*rpcConn).handleModelsList,
}

func decodeParams[T any](raw json.RawMessage) (T, *Error) {
	var v T
	if len(raw) == 0 {
		return v, &Error{Code: CodeInvalidParams, Message: "params is required"}
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return v, nil
}

func (c *rpcConn) resolveSession(handle string) (*runtime.Session, *Error) {
	sessionID, err := c.server.tokens.Validate(handle)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid session handle"}
	}
	sess, ok := c.server.manager.GetSession(sessionID)
	if !ok {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("session %q not found", sessionID)}
	}
	return sess, nil
}

func (c *rpcConn) handleSessionStart(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[sessionStartParams](raw)
	if perr != nil {
		return nil, perr
	}
	if p.SessionID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "session_id is required"}
	}

	cfg := runtime.SessionConfig{
		WorkingDir:          p.WorkingDir,
		Model:               runtime.ModelConfig{ProviderTag: p.Model.ProviderTag, ModelID: p.Model.ModelID, ThinkingLevel: p.Model.ThinkingLevel},
		SystemPrompt:        p.SystemPrompt,
		Tools:               p.Tools,
		Provider:            p.Provider,
		SessionStoreEnabled: p.SessionStoreEnabled,
		Features: runtime.FeaturesConfig{
			SubAgents: runtime.FeatureToggle(p.Features.SubAgents),
			Context:   runtime.FeatureToggle(p.Features.Context),
			Skills:    runtime.FeatureToggle(p.Features.Skills),
			MCP:       runtime.FeatureToggle(p.Features.MCP),
			Debug:     runtime.FeatureToggle(p.Features.Debug),
		},
		ContextWindow:       p.ContextWindow,
		CompactionThreshold: p.CompactionThreshold,
		KeepRecentMessages:  p.KeepRecentMessages,
		MaxIterations:       p.MaxIterations,
	}

	if _, err := c.server.manager.StartSession(c.ctx, p.SessionID, cfg); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	handle, err := c.server.tokens.Issue(p.SessionID)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	c.forwardEvents(p.SessionID)

	return sessionStartResult{SessionID: p.SessionID, Handle: handle}, nil
}

func (c *rpcConn) handleSessionBranch(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[sessionBranchParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(p.Handle)
	if serr != nil {
		return nil, serr
	}
	if err := sess.Branch(p.MessageID); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return struct{}{}, nil
}

func (c *rpcConn) handleSessionCompact(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[handleParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(p.Handle)
	if serr != nil {
		return nil, serr
	}
	res, err := sess.Compact(c.ctx)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return sessionCompactResult{Compacted: res.Compacted, ReplacedCount: res.ReplacedCount, SummaryID: res.SummaryID}, nil
}

func (c *rpcConn) handleSessionList(raw json.RawMessage) (any, *Error) {
	return sessionListResult{SessionIDs: c.server.manager.ListSessions()}, nil
}

func (c *rpcConn) handleSessionDelete(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[handleParams](raw)
	if perr != nil {
		return nil, perr
	}
	sessionID, err := c.server.tokens.Validate(p.Handle)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid session handle"}
	}
	if err := c.server.manager.StopSession(c.ctx, sessionID); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	c.mu.Lock()
	if unsub, ok := c.subs[sessionID]; ok {
		unsub()
		delete(c.subs, sessionID)
	}
	c.mu.Unlock()

	return struct{}{}, nil
}

func (c *rpcConn) handleAgentPrompt(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[agentPromptParams](raw)
	if perr != nil {
		return nil, perr
	}
	if p.Text == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "text is required"}
	}
	sess, serr := c.resolveSession(p.Handle)
	if serr != nil {
		return nil, serr
	}

	if !p.Sync {
		if err := sess.Prompt(p.Text); err != nil {
			return nil, &Error{Code: CodeInternalError, Message: err.Error()}
		}
		return agentPromptResult{}, nil
	}

	timeout := time.Duration(p.TimeoutMS) * time.Millisecond
	text, err := sess.PromptSync(c.ctx, p.Text, timeout)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return agentPromptResult{Text: text}, nil
}

func (c *rpcConn) handleAgentSteer(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[agentSteerParams](raw)
	if perr != nil {
		return nil, perr
	}
	if p.Text == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "text is required"}
	}
	sess, serr := c.resolveSession(p.Handle)
	if serr != nil {
		return nil, serr
	}
	if err := sess.Steer(p.Text); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return struct{}{}, nil
}

func (c *rpcConn) handleAgentAbort(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[handleParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(p.Handle)
	if serr != nil {
		return nil, serr
	}
	sess.Abort()
	return struct{}{}, nil
}

func (c *rpcConn) handleAgentState(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[handleParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(p.Handle)
	if serr != nil {
		return nil, serr
	}
	st := sess.GetState()
	return agentStateResult{SessionID: st.SessionID, Phase: string(st.Phase), Model: st.Model}, nil
}

func (c *rpcConn) handleModelSet(raw json.RawMessage) (any, *Error) {
	p, perr := decodeParams[modelSetParams](raw)
	if perr != nil {
		return nil, perr
	}
	if p.Model == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "model is required"}
	}
	sess, serr := c.resolveSession(p.Handle)
	if serr != nil {
		return nil, serr
	}
	if err := sess.SetModel(c.ctx, p.Model); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return struct{}{}, nil
}

func (c *rpcConn) handleModelsList(raw json.RawMessage) (any, *Error) {
	return modelsListResult{Providers: c.server.manager.ProviderNames()}, nil
}

// forwardEvents subscribes this connection to sessionID's events and
// forwards each one as a "session/event" notification until the session
// ends or the connection closes. One goroutine per subscribed session.
func (c *rpcConn) forwardEvents(sessionID string) {
	sess, ok := c.server.manager.GetSession(sessionID)
	if !ok {
		return
	}
	sub := sess.EventsSubscribe(c.ctx)

	c.mu.Lock()
	c.subs[sessionID] = sub.Unsubscribe
	c.mu.Unlock()

	go func() {
		for env := range sub.Events() {
			c.enqueue(notification("session/event", map[string]any{
				"session_id": env.SessionID,
				"event":      env.Event,
			}))
		}
	}()
}
