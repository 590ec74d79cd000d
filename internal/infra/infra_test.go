// README: Tests for dev token parsing and event sink fan-out.
package infra

import (
	"context"
	"errors"
	"testing"

	"wheels/internal/modules/intent"
)

func TestDevVerifier(t *testing.T) {
	cases := []struct {
		token   string
		uid     string
		role    string
		wantErr bool
	}{
		{token: "u1:driver", uid: "u1", role: "driver"},
		{token: "u2:passenger", uid: "u2", role: "passenger"},
		{token: "u3", wantErr: true},
		{token: ":driver", wantErr: true},
		{token: "u4:", wantErr: true},
	}
	for _, tc := range cases {
		tok, err := DevVerifier{}.VerifyIDToken(context.Background(), tc.token)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidDevToken) {
				t.Fatalf("%q: expected ErrInvalidDevToken, got %v", tc.token, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.token, err)
		}
		if tok.UID != tc.uid || tok.Claims["role"] != tc.role {
			t.Fatalf("%q: got %+v", tc.token, tok)
		}
	}
}

type recordingSink struct {
	events []intent.Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, e intent.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestSinksFanOut(t *testing.T) {
	boom := errors.New("broker down")
	a, b, c := &recordingSink{}, &recordingSink{err: boom}, &recordingSink{}
	err := Sinks{a, b, c}.Publish(context.Background(), intent.Event{IntentID: "i1", ToStatus: intent.StatusMatched})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap %v, got %v", boom, err)
	}
	for i, s := range []*recordingSink{a, b, c} {
		if len(s.events) != 1 || s.events[0].IntentID != "i1" {
			t.Fatalf("sink %d saw %+v", i, s.events)
		}
	}
	if err := (Sinks{}).Publish(context.Background(), intent.Event{}); err != nil {
		t.Fatalf("empty fan-out returned %v", err)
	}
}

func TestParticipantTopic(t *testing.T) {
	if got := ParticipantTopic("abc"); got != "participant_abc" {
		t.Fatalf("got %q", got)
	}
}
