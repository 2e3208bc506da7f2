package kernelctl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetExitCode_NilErrorIsSuccess(t *testing.T) {
	require.Equal(t, ExitSuccess, GetExitCode(nil))
}

func TestGetExitCode_ExitErrorReturnsItsCode(t *testing.T) {
	err := NewExitError(ExitCheckFailed, "chain invalid")
	require.Equal(t, ExitCheckFailed, GetExitCode(err))
}

func TestGetExitCode_WrappedExitErrorUnwraps(t *testing.T) {
	inner := errors.New("connection refused")
	err := WrapExitError(ExitCommandError, "failed to connect", inner)
	require.Equal(t, ExitCommandError, GetExitCode(err))
	require.ErrorIs(t, err, inner)
	require.Equal(t, "failed to connect: connection refused", err.Error())
}

func TestGetExitCode_OrdinaryErrorFallsBackToCommandError(t *testing.T) {
	require.Equal(t, ExitCommandError, GetExitCode(errors.New("boom")))
}

func TestPrintResult_JSONEncodesValue(t *testing.T) {
	var buf bytes.Buffer
	type payload struct {
		Valid bool `json:"valid"`
	}
	err := PrintResult(&buf, true, payload{Valid: true}, func(io.Writer, any) error {
		t.Fatal("text renderer should not be invoked in JSON mode")
		return nil
	})
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.True(t, decoded.Valid)
}

func TestPrintResult_TextDelegatesToRenderer(t *testing.T) {
	var buf bytes.Buffer
	called := false
	err := PrintResult(&buf, false, "irrelevant", func(w io.Writer, v any) error {
		called = true
		_, err := fmt.Fprintf(w, "rendered: %v", v)
		return err
	})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "rendered: irrelevant", buf.String())
}
