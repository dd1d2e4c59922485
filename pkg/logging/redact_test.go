package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHandler records every record it receives.
type captureHandler struct {
	records []slog.Record
	attrs   []slog.Attr
}

func (c *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (c *captureHandler) Handle(_ context.Context, r slog.Record) error {
	c.records = append(c.records, r)
	return nil
}

func (c *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c.attrs = append(c.attrs, attrs...)
	return c
}

func (c *captureHandler) WithGroup(string) slog.Handler { return c }

func recordAttrs(r slog.Record) map[string]slog.Value {
	out := map[string]slog.Value{}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value
		return true
	})
	return out
}

func TestRedactingHandler_MessageOccurrences(t *testing.T) {
	const password = "test123"

	for n := 0; n <= 3; n++ {
		capture := &captureHandler{}
		logger := slog.New(NewRedactingHandler(capture, password))

		msg := "login" + strings.Repeat(" with "+password, n)
		logger.Info(msg)

		require.Len(t, capture.records, 1)
		got := capture.records[0].Message
		assert.NotContains(t, got, password)
		assert.Equal(t, n, strings.Count(got, RedactionMarker), "n=%d", n)
	}
}

func TestRedactingHandler_MessageWithoutSecretUnchanged(t *testing.T) {
	capture := &captureHandler{}
	logger := slog.New(NewRedactingHandler(capture, "secret"))

	logger.Info("This is a normal log message")

	require.Len(t, capture.records, 1)
	assert.Equal(t, "This is a normal log message", capture.records[0].Message)
}

func TestRedactingHandler_Attributes(t *testing.T) {
	const password = "my_secret_password"
	capture := &captureHandler{}
	logger := slog.New(NewRedactingHandler(capture, password))

	logger.Info("signing in",
		"password", password,
		"detail", "sent "+password+" to server",
		"attempt", 1,
		slog.Group("request", slog.String("body", `{"password":"`+password+`"}`)),
	)

	require.Len(t, capture.records, 1)
	attrs := recordAttrs(capture.records[0])

	assert.Equal(t, "", attrs["password"].String())
	assert.Equal(t, "sent "+RedactionMarker+" to server", attrs["detail"].String())
	assert.Equal(t, int64(1), attrs["attempt"].Int64())

	group := attrs["request"].Group()
	require.Len(t, group, 1)
	assert.NotContains(t, group[0].Value.String(), password)
	assert.Contains(t, group[0].Value.String(), RedactionMarker)
}

func TestRedactingHandler_WithAttrs(t *testing.T) {
	const password = "hunter2"
	capture := &captureHandler{}
	logger := slog.New(NewRedactingHandler(capture, password)).With("credential", password)

	logger.Info("hello")

	require.Len(t, capture.attrs, 1)
	assert.Equal(t, "credential", capture.attrs[0].Key)
	assert.Equal(t, "", capture.attrs[0].Value.String())
}

func TestRedactingHandler_EmptySecretPassesThrough(t *testing.T) {
	capture := &captureHandler{}
	logger := slog.New(NewRedactingHandler(capture, ""))

	logger.Info("nothing to hide", "key", "value")

	require.Len(t, capture.records, 1)
	assert.Equal(t, "nothing to hide", capture.records[0].Message)
	assert.Equal(t, "value", recordAttrs(capture.records[0])["key"].String())
}

func TestNewRedactingLogger_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	logger := NewRedactingLogger(base, "pa55word")

	logger.Warn("retrying with pa55word", "user", "someone@example.com")

	out := buf.String()
	assert.NotContains(t, out, "pa55word")
	assert.Contains(t, out, RedactionMarker)
	assert.Contains(t, out, "someone@example.com")
}

func TestNewRedactingLogger_ScopedToInstance(t *testing.T) {
	var redacted, plain bytes.Buffer
	logger := NewRedactingLogger(slog.New(slog.NewTextHandler(&redacted, nil)), "topsecret")
	other := slog.New(slog.NewTextHandler(&plain, nil))

	logger.Info("topsecret")
	other.Info("topsecret")

	assert.NotContains(t, redacted.String(), "topsecret")
	assert.Contains(t, plain.String(), "topsecret")
}
