// SPDX-License-Identifier: AGPL-3.0-or-later
package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	Info().Str("key", "value").Msg("hello")

	out := buf.String()
	require.Contains(t, out, `"message":"hello"`)
	require.Contains(t, out, `"key":"value"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	Info().Msg("should be suppressed")
	require.Empty(t, buf.String())

	Warn().Msg("should appear")
	require.True(t, strings.Contains(buf.String(), "should appear"))
}

func TestCtxAttachesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	Ctx(ctx).Info().Msg("batch committed")

	require.Contains(t, buf.String(), `"correlation_id":"abc12345"`)
}

func TestGenerateCorrelationIDLength(t *testing.T) {
	id := GenerateCorrelationID()
	require.Len(t, id, 8)
}
