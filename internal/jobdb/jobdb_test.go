package jobdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDatabaseDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	db, err := Open(path, nil)
	require.NoError(t, err)
	defer db.Close()
}

func TestInsertLookup_RoundTrip(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	rec := &Record{
		Fingerprint: "abc123",
		TaskName:    "example/hello-world",
		WorkdirPath: "/work/example/hello-world/abc123",
	}
	require.NoError(t, db.Insert(rec))

	got, err := db.Lookup("abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "example/hello-world", got.TaskName)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestLookup_Miss(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Lookup("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsert_RequiresFingerprint(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	err = db.Insert(&Record{TaskName: "x"})
	assert.Error(t, err)
}

func TestInvalidate_RemovesRecord(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Insert(&Record{Fingerprint: "fp1", TaskName: "x"}))
	require.NoError(t, db.Invalidate("fp1"))

	got, err := db.Lookup("fp1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvalidate_MissingRecordIsNotAnError(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Invalidate("never-existed"))
}
