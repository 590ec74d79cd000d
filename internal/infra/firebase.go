// README: Firebase Admin SDK initialisation, token verifier and FCM notifier.
package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"wheels/internal/modules/intent"
)

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// NewFirebaseApp initialises the Admin SDK. If credentialsFile is empty,
// application-default credentials are used.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

type firebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (TokenVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}

var ErrInvalidDevToken = errors.New("dev token must look like uid:role")

// DevVerifier accepts "uid:role" bearer tokens. It is only wired when
// WHEELS_AUTH_MODE=dev.
type DevVerifier struct{}

func (DevVerifier) VerifyIDToken(_ context.Context, idToken string) (*FirebaseToken, error) {
	uid, role, ok := strings.Cut(idToken, ":")
	if !ok || uid == "" || role == "" {
		return nil, ErrInvalidDevToken
	}
	return &FirebaseToken{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}

// FCMNotifier pushes intent transitions to the owning participant's topic so a
// client can reconcile immediately instead of waiting for its next poll.
type FCMNotifier struct {
	client *messaging.Client
}

func NewFCMNotifier(ctx context.Context, app *firebase.App) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return &FCMNotifier{client: client}, nil
}

func ParticipantTopic(participantID string) string {
	return "participant_" + participantID
}

func (n *FCMNotifier) Publish(ctx context.Context, e intent.Event) error {
	msg := &messaging.Message{
		Topic: ParticipantTopic(string(e.ParticipantID)),
		Data: map[string]string{
			"type":        "intent_transition",
			"intent_id":   string(e.IntentID),
			"role":        string(e.Role),
			"from_status": string(e.FromStatus),
			"to_status":   string(e.ToStatus),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := n.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to %s: %w", msg.Topic, err)
	}
	return nil
}

// Sinks fans an event out to every sink and joins their errors.
type Sinks []intent.EventSink

func (s Sinks) Publish(ctx context.Context, e intent.Event) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
