package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/questforge/campaign"
	"github.com/dshills/questforge/graph/model"
	"github.com/dshills/questforge/graph/model/anthropic"
	"github.com/dshills/questforge/graph/model/google"
	"github.com/dshills/questforge/graph/model/openai"
	"github.com/dshills/questforge/internal/config"
	"github.com/dshills/questforge/internal/logging"
)

func testCommand(t *testing.T, yaml string) *cobra.Command {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", path, "")
	cmd.SetContext(context.Background())
	return cmd
}

func TestNewAppSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "campaigns.db")
	cmd := testCommand(t, `
log_level: error
store:
  backend: sqlite
  path: `+dbPath+`
model:
  provider: anthropic
  api_key: test-key
  classifier: model
search:
  endpoint: https://search.test
  allow_fetch: true
`)

	a, err := newApp(cmd)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close(context.Background())) })

	threads, err := a.svc.ListThreads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, threads)
	assert.FileExists(t, dbPath)

	d := a.deps()
	assert.IsType(t, &anthropic.ChatModel{}, d.Chat)
	assert.Nil(t, d.Images, "no image key for a non-OpenAI provider")
	assert.NotNil(t, d.Search)
	assert.Len(t, d.Tools, 1)
	assert.IsType(t, campaign.ModelClassifier{}, d.Classifier)
}

func TestNewAppInvalidConfig(t *testing.T) {
	_, err := newApp(testCommand(t, "store:\n  backend: etcd\n"))
	assert.ErrorContains(t, err, `unknown store backend "etcd"`)
}

func TestChatModel(t *testing.T) {
	tests := []struct {
		provider string
		want     interface{}
	}{
		{config.ProviderOpenAI, &openai.ChatModel{}},
		{config.ProviderAnthropic, &anthropic.ChatModel{}},
		{config.ProviderGoogle, &google.ChatModel{}},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			assert.IsType(t, tt.want, chatModel(config.ModelConfig{Provider: tt.provider, APIKey: "k"}, true))
		})
	}
}

func TestDepsImageKeyFallback(t *testing.T) {
	a := &app{cfg: config.Default()}
	a.cfg.Model.APIKey = "sk-test"
	a.logger = logging.NewNop()

	d := a.deps()
	assert.NotNil(t, d.Images, "OpenAI key doubles as the image key")
	assert.Nil(t, d.Search)
	assert.Empty(t, d.Tools)
	assert.Nil(t, d.Classifier)
}

func TestDepsTextModelSkipsJSONMode(t *testing.T) {
	var (
		mu      sync.Mutex
		formats []bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, ok := body["response_format"]
		mu.Lock()
		formats = append(formats, ok)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"YES"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	t.Cleanup(srv.Close)

	a := &app{cfg: config.Default()}
	a.cfg.Model.APIKey = "sk-test"
	a.cfg.Model.BaseURL = srv.URL + "/v1/"
	a.cfg.Model.Classifier = "model"
	a.logger = logging.NewNop()
	d := a.deps()

	ctx := context.Background()
	msgs := []model.Message{model.User("Is this a plot change?")}
	_, err := d.Chat.Chat(ctx, msgs, nil)
	require.NoError(t, err)
	_, err = d.Text.Chat(ctx, msgs, nil)
	require.NoError(t, err)
	change, err := d.Classifier.Classify(ctx, "Make the villain a lich")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, false}, formats)
	assert.Equal(t, campaign.NarrativeChange, change)
}
