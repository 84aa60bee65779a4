//go:build integration

package users_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreSource_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	const projectID = "test-project"
	collectionName := "users-" + time.Now().Format("150405.000000")

	client, err := firestore.NewClient(ctx, projectID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &users.FirestoreConfig{ProjectID: projectID, CollectionName: collectionName}
	source, err := users.NewFirestoreSource(cfg, client, zerolog.Nop())
	require.NoError(t, err)

	ann := users.NewUser(1, "ann", "secret")
	require.NoError(t, source.Put(ctx, ann))

	f, err := users.NewFetcher(source, zerolog.Nop())
	require.NoError(t, err)

	t.Run("Fetch list", func(t *testing.T) {
		got, err := f.Fetch(ctx, users.List())
		require.NoError(t, err)
		assert.Equal(t, []users.User{ann}, got)
	})

	t.Run("Fetch hit", func(t *testing.T) {
		got, err := f.Fetch(ctx, users.ByID(1))
		require.NoError(t, err)
		assert.Equal(t, ann, got)
	})

	t.Run("Fetch miss", func(t *testing.T) {
		_, err := f.Fetch(ctx, users.ByID(999))
		require.Error(t, err)
		assert.ErrorIs(t, err, fetch.ErrNotFound)
	})

	t.Run("Put requires an id", func(t *testing.T) {
		assert.Error(t, source.Put(ctx, users.User{}))
	})
}
