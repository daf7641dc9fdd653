package headertracker

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cindex/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFirstWinClaimsOnce(t *testing.T) {
	db := openStore(t)
	tr := New(db)
	ctx := context.Background()

	var d1, d2 Decision
	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		d1, err = tr.ClaimOrSuppress(ctx, tx, "/a.h", "hash1", "/a.cpp", "args1")
		return err
	}))
	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		d2, err = tr.ClaimOrSuppress(ctx, tx, "/a.h", "hash1", "/b.cpp", "args2")
		return err
	}))

	assert.True(t, d1.Claimed)
	assert.False(t, d2.Claimed)

	entry, err := db.HeaderTrackerEntry(ctx, "/a.h")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "/a.cpp", entry.ProcessedBy)
}

func TestReleaseOwnedFreesHeaderForReclaim(t *testing.T) {
	db := openStore(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tr.ClaimOrSuppress(ctx, tx, "/a.h", "hash1", "/a.cpp", "args1")
		return err
	}))
	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return tr.ReleaseOwned(ctx, tx, "/a.cpp")
	}))

	entry, err := db.HeaderTrackerEntry(ctx, "/a.h")
	require.NoError(t, err)
	assert.Nil(t, entry)

	var claimed Decision
	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		claimed, err = tr.ClaimOrSuppress(ctx, tx, "/a.h", "hash1", "/b.cpp", "args2")
		return err
	}))
	assert.True(t, claimed.Claimed)
}

func TestClearAllWipesTracker(t *testing.T) {
	db := openStore(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tr.ClaimOrSuppress(ctx, tx, "/a.h", "hash1", "/a.cpp", "args1")
		return err
	}))
	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return tr.ClearAll(ctx, tx)
	}))

	entry, err := db.HeaderTrackerEntry(ctx, "/a.h")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestStaleHeadersDetectsContentChange(t *testing.T) {
	db := openStore(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tr.ClaimOrSuppress(ctx, tx, "/a.h", "hash1", "/a.cpp", "args1")
		return err
	}))

	stale, err := tr.StaleHeaders(ctx, func(path string) (string, error) {
		return "hash2", nil // content changed since claim
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.h"}, stale)

	unchanged, err := tr.StaleHeaders(ctx, func(path string) (string, error) {
		return "hash1", nil
	})
	require.NoError(t, err)
	assert.Empty(t, unchanged)
}
