package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/filealloc/internal/config"
	"github.com/dharsanguruparan/filealloc/internal/model"
)

func memoryConfig() *config.Config {
	return &config.Config{
		PublicURL:     "http://localhost:8080",
		StoreBackend:  config.BackendMemory,
		Buckets:       []string{"parts", "avatars"},
		URLTTL:        time.Minute,
		SigningSecret: []byte("secret"),
		Policy:        "default",
		LogLevel:      "info",
	}
}

func TestBuildMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"avatars", "parts"}, a.Managers.Buckets())
	require.NotNil(t, a.Blobs)

	m, err := a.Managers.Lookup("parts")
	require.NoError(t, err)
	entry, uploadURL, err := m.CreateEntry(ctx, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uploadURL, "http://localhost:8080/blobs/parts/"+entry.Bucketname))

	store, ok := a.Blobs.Lookup("parts")
	require.True(t, ok)
	require.NoError(t, store.CreateObject(ctx, entry.Bucketname, strings.NewReader("abc"), 3))
	result, err := m.ProcessFile(ctx, entry.Bucketname)
	require.NoError(t, err)
	assert.Equal(t, model.SuccessFileProcessed, result.Status)

	// Buckets share one table but stay isolated.
	other, err := a.Managers.Lookup("avatars")
	require.NoError(t, err)
	entries, err := other.GetEntries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildMemoryPDFPolicyRejectsNonPDF(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Policy = "pdf"
	cfg.PDFMaxPages = 10
	a, err := Build(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	m, err := a.Managers.Lookup("parts")
	require.NoError(t, err)
	entry, _, err := m.CreateEntry(ctx, "")
	require.NoError(t, err)
	store, _ := a.Blobs.Lookup("parts")
	require.NoError(t, store.CreateObject(ctx, entry.Bucketname, strings.NewReader("not a pdf"), 9))

	result, err := m.ProcessFile(ctx, entry.Bucketname)
	require.NoError(t, err)
	assert.Equal(t, model.ErrorFileInvalid, result.Status)
	assert.Equal(t, model.StatusRejected, result.Entry.Status)
}

func TestBuildUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "tape"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{LogLevel: "warn", LogFormat: "json"}
	logger := NewLogger(cfg, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	buf.Reset()
	logger = NewLogger(&config.Config{LogLevel: "bogus"}, &buf)
	logger.Info().Msg("fallback to info")
	assert.Contains(t, buf.String(), "fallback to info")
}
