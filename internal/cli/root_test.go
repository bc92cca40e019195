package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsule-go/internal/apperr"
	"capsule-go/internal/logger"
	"capsule-go/internal/models"
	"capsule-go/internal/services"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--side-effects=false", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// runStdio executes the command against the process stdout and stderr, the way the binary does.
func runStdio(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	outR, outW, perr := os.Pipe()
	require.NoError(t, perr)
	errR, errW, perr := os.Pipe()
	require.NoError(t, perr)
	origOut, origErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = outW, errW
	defer func() { os.Stdout, os.Stderr = origOut, origErr }()

	outCh, errCh := make(chan []byte, 1), make(chan []byte, 1)
	go func() { b, _ := io.ReadAll(outR); outCh <- b }()
	go func() { b, _ := io.ReadAll(errR); errCh <- b }()

	cmd := NewRootCommand()
	cmd.SetArgs(append([]string{"--side-effects=false"}, args...))
	err = cmd.Execute()

	os.Stdout, os.Stderr = origOut, origErr
	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())
	return string(<-outCh), string(<-errCh), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"migrate"},
		{"capsule", "create"},
		{"capsule", "get"},
		{"capsule", "show"},
		{"capsule", "list"},
		{"capsule", "update"},
		{"capsule", "policy"},
		{"membership", "request"},
		{"membership", "invite"},
		{"membership", "approve"},
		{"membership", "set-role"},
		{"graph", "friend-request"},
		{"graph", "block"},
		{"graph", "show"},
	}
	for _, path := range paths {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestCapsuleCreate_MemoryStore(t *testing.T) {
	chdir(t, t.TempDir())
	owner := uuid.NewString()

	out, err := run(t, "--store", StoreMemory, "--as", owner, "capsule", "create", "--name", "Book Club", "--policy", "open")
	require.NoError(t, err)

	var state services.MembershipState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, "book-club", state.Capsule.Slug)
	assert.Equal(t, models.PolicyOpen, state.Capsule.MembershipPolicy)
	assert.True(t, state.Viewer.IsOwner)
	require.Len(t, state.Members, 1)
	assert.Equal(t, models.RoleFounder, state.Members[0].Role)
}

func TestStdoutCarriesOnlyJSON(t *testing.T) {
	chdir(t, t.TempDir())
	t.Cleanup(func() { logger.Set(nil) })

	stdout, stderr, err := runStdio(t, "--store", StoreMemory, "--log-level", "info", "--as", uuid.NewString(),
		"capsule", "create", "--name", "Logged")
	require.NoError(t, err)

	var state services.MembershipState
	require.NoError(t, json.Unmarshal([]byte(stdout), &state), "stdout: %q", stdout)
	assert.Equal(t, "logged", state.Capsule.Slug)
	assert.Contains(t, stderr, "capsule created")
}

func TestCapsuleShowAndList_SQLite(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "capsule.db"))
	t.Setenv("DATABASE_LOG_LEVEL", "silent")
	owner := uuid.NewString()

	_, err := run(t, "migrate")
	require.NoError(t, err)
	_, err = run(t, "--as", owner, "capsule", "create", "--name", "Reading Room")
	require.NoError(t, err)

	out, err := run(t, "capsule", "show", "reading-room")
	require.NoError(t, err)
	var state services.MembershipState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, owner, state.Capsule.OwnerID)
	assert.False(t, state.Viewer.IsMember)

	out, err = run(t, "--as", owner, "capsule", "list")
	require.NoError(t, err)
	var owned []services.CapsuleView
	require.NoError(t, json.Unmarshal([]byte(out), &owned))
	require.Len(t, owned, 1)
	assert.Equal(t, "reading-room", owned[0].Slug)

	out, err = run(t, "capsule", "list", "--owner", uuid.NewString())
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestRejectedOperation(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := run(t, "--store", StoreMemory, "--as", uuid.NewString(), "capsule", "get", "not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, apperr.Invalid, apperr.CodeOf(err))

	var buf bytes.Buffer
	assert.Equal(t, ExitRejected, ReportError(&buf, err))
	assert.Contains(t, buf.String(), `"code": "invalid"`)
}

func TestInvalidStore(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := run(t, "--store", "redis", "graph", "show")
	require.Error(t, err)

	var buf bytes.Buffer
	assert.Equal(t, ExitFailure, ReportError(&buf, err))
	assert.Equal(t, ExitSuccess, ReportError(&buf, nil))
}

func TestMigrateRequiresDB(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := run(t, "--store", StoreMemory, "migrate")
	assert.Error(t, err)
	assert.False(t, errors.As(err, new(*apperr.Error)))
}

func TestSQLiteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "capsule.db"))
	t.Setenv("DATABASE_LOG_LEVEL", "silent")

	_, err := run(t, "migrate")
	require.NoError(t, err)

	a, b := uuid.NewString(), uuid.NewString()
	_, err = run(t, "--as", a, "graph", "friend-request", b, "-m", "hi")
	require.NoError(t, err)

	out, err := run(t, "--as", b, "graph", "accept", a)
	require.NoError(t, err)

	var summary services.SocialGraphSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, []string{a}, summary.Friends)
	assert.Empty(t, summary.Incoming)
}
