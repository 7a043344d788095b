package crmsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignInThenSend(t *testing.T) {
	var gotAuth, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/auth/anonymous":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Token{Token: "tok", UserID: "u1"})
		case "/v0/chat/messages":
			gotAuth = r.Header.Get("Authorization")
			var body struct {
				Text string `json:"text"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			gotText = body.Text
			json.NewEncoder(w).Encode(ChatReply{
				Reply: Reply{Turn: ChatTurn{Role: "assistant", Text: "Add John?"}, State: "awaiting_confirmation"},
				Chat:  Chat{State: "awaiting_confirmation"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	tok, err := c.SignInAnonymous(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", tok.UserID)

	reply, err := c.Send(context.Background(), "add John")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "add John", gotText)
	assert.Equal(t, "Add John?", reply.Reply.Turn.Text)
	assert.Equal(t, "awaiting_confirmation", reply.State)
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev", r.Header.Get("X-User-Id"))
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"assistant_busy","message":"busy"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.UserID = "dev"
	_, err := c.Send(context.Background(), "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "assistant_busy", apiErr.Code)
}

func TestResetChatIgnoresEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).ResetChat(context.Background()))
}
