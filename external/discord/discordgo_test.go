package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/racenotif/internal/discord"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestSession(t *testing.T, rt roundTripFunc) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if rt != nil {
		s.Client = &http.Client{Transport: rt}
	}
	return s
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestSendChannelMessage_ReturnsMessageIDAndAllowsRoleMentions(t *testing.T) {
	var payload discordgo.MessageSend
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/channels/chan-1/messages") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"id":"msg-1","channel_id":"chan-1","content":"hello"}`), nil
	})

	c := &Client{session: s}
	id, err := c.SendChannelMessage(context.Background(), "chan-1", "hello <@&role-1>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected msg-1, got %q", id)
	}
	if payload.Content != "hello <@&role-1>" {
		t.Fatalf("unexpected content: %q", payload.Content)
	}
	if payload.AllowedMentions == nil || len(payload.AllowedMentions.Parse) != 1 || payload.AllowedMentions.Parse[0] != discordgo.AllowedMentionTypeRoles {
		t.Fatalf("expected role mentions to be allowed, got %+v", payload.AllowedMentions)
	}
}

func TestSendChannelMessage_PropagatesRESTError(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"message":"Missing Access","code":50001}`), nil
	})

	c := &Client{session: s}
	if _, err := c.SendChannelMessage(context.Background(), "chan-1", "hello"); err == nil {
		t.Fatal("expected error for forbidden response")
	}
}

func TestSendChannelMessage_RequiresSession(t *testing.T) {
	c := &Client{}
	if _, err := c.SendChannelMessage(context.Background(), "chan-1", "hello"); err == nil {
		t.Fatal("expected error without a session")
	}
}

func TestDeleteChannelMessage_Success(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodDelete || !strings.HasSuffix(req.URL.Path, "/channels/chan-1/messages/msg-1") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		return jsonResponse(http.StatusNoContent, ""), nil
	})

	c := &Client{session: s}
	if err := c.DeleteChannelMessage(context.Background(), "chan-1", "msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteChannelMessage_NotFoundMapsToSentinel(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"message":"Unknown Message","code":10008}`), nil
	})

	c := &Client{session: s}
	err := c.DeleteChannelMessage(context.Background(), "chan-1", "msg-1")
	if !errors.Is(err, discordpkg.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestGetBotUserID_UsesStateCacheFirst(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.String())
		return nil, nil
	})
	s.State.User = &discordgo.User{ID: "bot-self"}

	c := &Client{session: s}
	id, err := c.GetBotUserID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "bot-self" {
		t.Fatalf("expected bot-self, got %q", id)
	}
}

func TestEditChannelMessage_PatchesContent(t *testing.T) {
	var payload struct {
		Content string `json:"content"`
	}
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPatch || !strings.HasSuffix(req.URL.Path, "/channels/chan-1/messages/msg-1") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"id":"msg-1","channel_id":"chan-1","content":"calendar"}`), nil
	})

	c := &Client{session: s}
	if err := c.EditChannelMessage(context.Background(), "chan-1", "msg-1", "calendar"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Content != "calendar" {
		t.Fatalf("unexpected content: %q", payload.Content)
	}
}

func TestEditChannelMessage_NotFoundMapsToSentinel(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"message":"Unknown Message","code":10008}`), nil
	})

	c := &Client{session: s}
	err := c.EditChannelMessage(context.Background(), "chan-1", "msg-1", "calendar")
	if !errors.Is(err, discordpkg.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestConnect_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Client{token: "test-token"}
	err := c.Connect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.session != nil {
		t.Fatalf("session must not be kept after an aborted connect")
	}
}
