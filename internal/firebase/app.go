// Package firebase adapts the Firebase Admin SDK and the Firestore client
// to the backend interfaces consumed by the subscription registry.
package firebase

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	fbadmin "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/atinyakov/firewatch/internal/backend"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config selects the Firebase project and Firestore database.
type Config struct {
	ProjectID       string
	DatabaseID      string
	CredentialsFile string
}

// App holds the clients of one Firebase project.
type App struct {
	Firestore   *firestore.Client
	Auth        *auth.Client
	Collections *CollectionSource
	Session     *TokenSession
}

// NewApp initializes the Firebase app, its Auth client, and a Firestore
// client for cfg.DatabaseID.
func NewApp(ctx context.Context, cfg Config, log *zap.Logger) (*App, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project id must be provided to create a firebase app")
	}
	databaseID := cfg.DatabaseID
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	fb, err := fbadmin.NewApp(ctx, &fbadmin.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	authClient, err := fb.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	fs, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firestore client: %w", err)
	}

	return &App{
		Firestore:   fs,
		Auth:        authClient,
		Collections: NewCollectionSource(fs, log),
		Session:     NewTokenSession(authClient, log),
	}, nil
}

// Backend returns the app as a registry backend named name.
func (a *App) Backend(name string) *backend.App {
	return &backend.App{Name: name, Collections: a.Collections, Auth: a.Session}
}

// Close signs the session out and closes the Firestore client.
func (a *App) Close() error {
	if a == nil || a.Firestore == nil {
		return nil
	}
	if a.Session != nil {
		a.Session.SignOut()
	}
	return a.Firestore.Close()
}
