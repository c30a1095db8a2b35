package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with the legacy variables unset.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, []string{"https://nomadly.bitworkspace.kr"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 30*time.Second, cfg.OpenAI.Timeout())
	assert.Equal(t, 10*time.Second, cfg.TourAPI.Timeout)
	assert.Equal(t, 120*time.Second, cfg.Cache.TTL)
	assert.Equal(t, nomadly.DefaultMaxToolRounds, cfg.Planner.MaxToolRounds)
	assert.Equal(t, "UTC", cfg.Planner.DefaultTimezone)
	assert.True(t, cfg.EventBus.Enabled)
	assert.Empty(t, cfg.Planner.AllowedTools)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("OPENAI_TIMEOUT", "45")
	t.Setenv("TOURAPI_KEY", "tour-key")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("PLANNER_ALLOWED_TOOLS", "get_search_keyword,get_detail_common")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, 45*time.Second, cfg.OpenAI.Timeout())
	assert.Equal(t, "tour-key", cfg.TourAPI.ServiceKey)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, []string{"get_search_keyword", "get_detail_common"}, cfg.Planner.AllowedTools)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nomadly.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
  cors_origins: [http://localhost:3000]
planner:
  max_tool_rounds: 2
  default_timezone: Asia/Seoul
log:
  format: json
`), 0o600))
	t.Setenv("PORT", "7500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7500, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "json", cfg.Log.Format)

	pc := cfg.PlannerConfig()
	assert.Equal(t, 2, pc.MaxToolRounds)
	assert.Equal(t, "Asia/Seoul", pc.DefaultTimezone)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENAI_API_KEY=from-dotenv\nTOURAPI_KEY=tour\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.OpenAI.APIKey)
	assert.Equal(t, "tour", cfg.TourAPI.ServiceKey)
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)

	_, err := Load("nope.yaml")
	assert.True(t, nomadly.IsCode(err, nomadly.ErrCodeConfiguration))
}

func TestValidate(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, nomadly.IsCode(err, nomadly.ErrCodeConfiguration))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY, TOURAPI_KEY is not set")

	cfg.OpenAI.APIKey = "k"
	cfg.TourAPI.ServiceKey = "k"
	cfg.Log.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "unknown log format")

	cfg.Log.Format = "text"
	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate(), "invalid port")
}
