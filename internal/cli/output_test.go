package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/dberr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int{"records": 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"records": float64(3)}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("PROTOCOL", "pull rejected", map[string]string{"table": "ghosts"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PROTOCOL", resp.Error.Code)
	assert.Equal(t, "pull rejected", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("ADAPTER", "batch failed", map[string]string{"op": "batch"}))
	assert.Contains(t, buf.String(), "Error [ADAPTER]: batch failed")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("ADAPTER", "batch failed", map[string]string{"op": "batch"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("opened %s", "driftdb.sqlite")
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("opened %s", "driftdb.sqlite")
	assert.Empty(t, out.String())
	assert.Equal(t, "opened driftdb.sqlite\n", errOut.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitFailure, "pull failed", dberr.Protocol("notes", "bad"))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.True(t, dberr.IsProtocol(wrapped))
	assert.Contains(t, wrapped.Error(), "pull failed: PROTOCOL: bad")
}

func TestFail(t *testing.T) {
	t.Run("json reports the dberr code", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}

		err := fail(f, ExitFailure, "pull failed", dberr.Protocol("notes", "bad"))
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "PROTOCOL", resp.Error.Code)
		assert.Equal(t, map[string]any{"table": "notes"}, resp.Error.Details)
	})

	t.Run("record scope becomes details", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}

		_ = fail(f, ExitFailure, "update failed", dberr.InvalidOperation("record not found").WithRecord("notes", "n1"))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, map[string]any{"table": "notes", "id": "n1"}, resp.Error.Details)
	})

	t.Run("plain errors have no details", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}

		_ = fail(f, ExitFailure, "open failed", errors.New("disk"))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeCommand, resp.Error.Code)
		assert.Nil(t, resp.Error.Details)
	})

	t.Run("text writes nothing", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf}

		err := fail(f, ExitFailure, "open failed", errors.New("disk"))
		assert.Error(t, err)
		assert.Empty(t, buf.String())
	})

	t.Run("configuration errors are command errors", func(t *testing.T) {
		f := &OutputFormatter{Format: "text", Writer: &bytes.Buffer{}}
		err := fail(f, ExitFailure, "load", dberr.Configuration("no schema"))
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	assert.Equal(t, ErrCodeCommand, errorCode(errors.New("plain")))
}
