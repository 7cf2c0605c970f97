// README: Firebase Admin SDK initialisation: token verification, Firestore, Cloud Messaging and Realtime Database.
package infra

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Token holds the verified caller identity used by the auth middleware.
type Token struct {
	UID    string
	Claims map[string]interface{}
}

// Role returns the "role" custom claim, or "" when absent.
func (t *Token) Role() string {
	if t == nil {
		return ""
	}
	r, _ := t.Claims["role"].(string)
	return r
}

// TokenVerifier verifies a raw Firebase ID token string.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

type Firebase struct {
	app *firebase.App

	Verifier  TokenVerifier
	Firestore *firestore.Client
	Messaging *messaging.Client
	// Realtime is nil when no database URL is configured.
	Realtime *db.Client
}

// NewFirebase builds every Firebase client the API needs from one app.
// An empty credentialsFile falls back to application-default credentials.
func NewFirebase(ctx context.Context, projectID, credentialsFile, databaseURL string) (*Firebase, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Firestore: %w", err)
	}
	msg, err := app.Messaging(ctx)
	if err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}

	fb := &Firebase{
		app:       app,
		Verifier:  &firebaseVerifier{client: authClient},
		Firestore: fs,
		Messaging: msg,
	}
	if databaseURL != "" {
		rt, err := app.Database(ctx)
		if err != nil {
			_ = fs.Close()
			return nil, fmt.Errorf("firebase app.Database: %w", err)
		}
		fb.Realtime = rt
	}
	return fb, nil
}

func (f *Firebase) Close() error {
	return f.Firestore.Close()
}

type firebaseVerifier struct {
	client *auth.Client
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &Token{UID: token.UID, Claims: token.Claims}, nil
}
