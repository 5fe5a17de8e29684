package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/ledger"
	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/partition"
	"github.com/roach88/etude/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"id": "s-1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"id": "s-1"}, resp.Data)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeValidation, "count must be >= 0", []string{"count"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "count must be >= 0", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeNotFound, "no such song", map[string]string{"id": "x"}))
	assert.Contains(t, buf.String(), "Error [E_NOT_FOUND]: no such song")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error(ErrCodeNotFound, "no such song", map[string]string{"id": "x"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Emit(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	text := func(w io.Writer) { fmt.Fprintln(w, "Minuet  10") }

	require.NoError(t, formatter.Emit(map[string]int{"plays": 10}, text))
	assert.Equal(t, "Minuet  10\n", buf.String())

	buf.Reset()
	formatter.Format = "json"
	require.NoError(t, formatter.Emit(map[string]int{"plays": 10}, text))
	assert.JSONEq(t, `{"status":"ok","data":{"plays":10}}`, buf.String())
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("opened %s", "etude.db")
	assert.Empty(t, out.String())
	assert.Equal(t, "opened etude.db\n", diag.String())

	diag.Reset()
	formatter.Verbose = false
	formatter.VerboseLog("hidden")
	assert.Empty(t, diag.String())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", model.NewNotFoundError(model.KindSong, "x"), ErrCodeNotFound},
		{"validation", fmt.Errorf("wrapped: %w", model.NewValidationError(model.KindPlay, "", "bad")), ErrCodeValidation},
		{"quota", &ledger.QuotaExceededError{StudentID: "s", Kind: model.KindSong, Limit: 1}, ErrCodeQuota},
		{"already shared", partition.ErrAlreadyShared, ErrCodeAlreadyShared},
		{"precondition", &partition.PreconditionError{StudentID: "s"}, ErrCodePrecondition},
		{"other", errors.New("disk full"), ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	refs := []store.CrossRef{{FromID: "sess-1", Field: "instructor_id", ToID: "inst-1", OtherPart: model.PartitionPrivate}}
	err := formatter.Fail(&partition.PreconditionError{StudentID: "s", Refs: refs})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, partition.ErrPrecondition)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodePrecondition, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 1)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad config")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open", errors.New("x")))))
}
