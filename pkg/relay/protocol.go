package relay

import (
	"context"
	"errors"
)

var errUnhandledRequest = errors.New("unhandled request kind")

// handleMessage interprets one inbound control message and advances the
// connection's Identifying/Connected/AuthFailed state, sending whatever
// reply the message calls for. It is invoked from the receive loop; any
// error it returns is treated as a protocol failure and triggers a
// control-plane reconnect.
func (r *Relay) handleMessage(ctx context.Context, msg MessageToRelay) error {
	switch {
	case msg.Hello != nil:
		return r.handleHello(ctx, *msg.Hello)
	case msg.Identified != nil:
		r.handleIdentified(*msg.Identified)
		return nil
	case msg.Request != nil:
		return r.handleRequest(ctx, *msg.Request)
	default:
		return nil
	}
}

// handleHello answers the streamer's challenge with an Identify message.
func (r *Relay) handleHello(ctx context.Context, hello Hello) error {
	r.mu.Lock()
	id, name, password, writer := r.id, r.name, r.password, r.writer
	r.mu.Unlock()

	auth := calculateAuthentication(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	reply := MessageToStreamer{Identify: &Identify{ID: id, Name: name, Authentication: auth}}
	return writer.send(ctx, reply)
}

// handleIdentified records whether the streamer accepted the relay's
// credentials and publishes the resulting status string.
func (r *Relay) handleIdentified(id Identified) {
	r.mu.Lock()
	switch id.Result {
	case IdentifiedOk:
		r.connected = true
		r.wrongPassword = false
	case IdentifiedWrongPassword:
		r.connected = false
		r.wrongPassword = true
	}
	r.mu.Unlock()
	r.publishStatus()
}

// handleRequest dispatches a correlated request to its handler and sends
// exactly one Response bearing the same id, either ok or error. An
// unrecognized request kind gets an error response rather than being
// silently dropped, preserving the request/response pairing invariant.
func (r *Relay) handleRequest(ctx context.Context, req Request) error {
	switch {
	case req.Data.StartTunnel != nil:
		return r.startTunnel(ctx, req.ID, *req.Data.StartTunnel)
	case req.Data.Status != nil:
		return r.sendResponse(ctx, r.handleStatusRequest(req.ID))
	default:
		return r.sendResponse(ctx, errorResponse(req.ID, errUnhandledRequest))
	}
}

func (r *Relay) handleStatusRequest(id string) Response {
	r.mu.Lock()
	provider := r.statusProvider
	r.mu.Unlock()

	var battery *int32
	if provider != nil {
		st, err := provider.Status()
		if err != nil {
			r.logger.Debug("status provider failed", "error", err)
		} else {
			battery = st.BatteryPercentage
		}
	}

	return Response{
		ID:     id,
		Result: ResponseResult{Ok: &ResponseData{Status: &StatusResponse{BatteryPercentage: battery}}},
	}
}

// sendResponse writes resp over the currently active control writer.
func (r *Relay) sendResponse(ctx context.Context, resp Response) error {
	r.mu.Lock()
	writer := r.writer
	r.mu.Unlock()
	return writer.send(ctx, MessageToStreamer{Response: &resp})
}
