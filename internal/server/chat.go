package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
	"github.com/jconstantine618/ai-consulting-crm/internal/metrics"
	"github.com/jconstantine618/ai-consulting-crm/internal/repo"
	"github.com/jconstantine618/ai-consulting-crm/internal/session"
)

func registerChat(api huma.API, sessions *session.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "get-chat",
		Method:      http.MethodGet,
		Path:        "/chat",
		Summary:     "Current assistant conversation",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[ChatResponse], error) {
		userID, serr := userIDFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		s, err := sessions.Get(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(chatResponse(s.Pipeline)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-chat-message",
		Method:      http.MethodPost,
		Path:        "/chat/messages",
		Summary:     "Send an utterance to the assistant",
		Description: "Blocks until the assistant has answered. A second message sent meanwhile is rejected with 409.",
		Errors:      []int{http.StatusUnauthorized, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body ChatMessageRequest `json:"body"`
	}) (*bodyOutput[ChatReplyResponse], error) {
		userID, serr := userIDFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		s, err := sessions.Get(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		reply, err := s.Pipeline.Submit(ctx, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ChatReplyResponse{Reply: reply, ChatResponse: chatResponse(s.Pipeline)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reset-chat",
		Method:        http.MethodDelete,
		Path:          "/chat",
		Summary:       "Start the conversation over",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		userID, serr := userIDFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		if err := sessions.Reset(userID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent record changes",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"contacts,deals,projects,settings"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*bodyOutput[paginatedEvents], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, cursorID, repo.EventFilter{
			Scope:      scope,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return respond(resp), nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	res := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
	}
	if evt.Payload != "" {
		var payload any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			res.Payload = payload
		}
	}
	return res
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func registerSubscribe(api huma.API, e engine.Engine, log *zap.Logger) {
	sse.Register(api, huma.Operation{
		OperationID: "subscribe-collection",
		Method:      http.MethodGet,
		Path:        "/subscribe/{kind}",
		Summary:     "Stream collection snapshots",
		Description: "Sends the full collection on connect and again after every change.",
	}, map[string]any{
		"snapshot": SnapshotEvent{},
		"error":    StreamErrorEvent{},
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind" enum:"contacts,deals,projects,settings"`
	}, send sse.Sender) {
		scope, err := userScope(ctx, e)
		if err != nil {
			send.Data(StreamErrorEvent{Message: err.Error()})
			return
		}
		ch, err := e.Store.Subscribe(ctx, scope, input.Kind)
		if err != nil {
			send.Data(StreamErrorEvent{Message: err.Error()})
			return
		}
		metrics.LiveSubscriptions.Inc()
		defer metrics.LiveSubscriptions.Dec()
		log.Debug("stream opened", zap.String("user_id", scope.UserID), zap.String("kind", input.Kind))
		for snap := range ch {
			if err := send.Data(SnapshotEvent{Kind: snap.Kind, Records: nonNilSlice(snap.Records)}); err != nil {
				log.Debug("stream closed", zap.String("user_id", scope.UserID), zap.Error(err))
				return
			}
		}
	})
}
