package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/StrawberryAcai/Nomadly.backend/internal/classify"
	"github.com/StrawberryAcai/Nomadly.backend/internal/config"
	nlog "github.com/StrawberryAcai/Nomadly.backend/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tourBody = `{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},
"body":{"items":{"item":[{"title":"해운대해수욕장","contentid":"126508","addr1":"부산광역시 해운대구 우동"}]},
"numOfRows":10,"pageNo":%d,"totalCount":25}}}`

func tourServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		page := r.URL.Query().Get("pageNo")
		if page == "" {
			page = "1"
		}
		var n int
		fmt.Sscanf(page, "%d", &n)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, tourBody, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func assistant(msg map[string]interface{}) string {
	raw, _ := json.Marshal(map[string]interface{}{
		"choices": []interface{}{map[string]interface{}{"index": 0, "message": msg}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
	})
	return string(raw)
}

// modelServer asks for one keyword search, then answers without tools,
// then returns a one-day plan on the tool-less final turn.
func modelServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		_, hasTools := body["tools"]

		w.Header().Set("Content-Type", "application/json")
		switch {
		case n == 1:
			fmt.Fprint(w, assistant(map[string]interface{}{
				"role": "assistant",
				"tool_calls": []interface{}{map[string]interface{}{
					"id": "call_1", "type": "function",
					"function": map[string]interface{}{"name": "get_search_keyword", "arguments": `{"keyword":"해운대","area_code":6}`},
				}},
			}))
		case hasTools:
			fmt.Fprint(w, assistant(map[string]interface{}{"role": "assistant", "content": "자료가 충분합니다."}))
		default:
			fmt.Fprint(w, assistant(map[string]interface{}{
				"role":    "assistant",
				"content": `{"start_date":"2024-03-01","end_date":"2024-03-02","plan":[[{"todo":"해변 산책","place":"해운대해수욕장 — 부산광역시 해운대구 우동","time":"2024-03-01-10-00"}]]}`,
			}))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tourURL, modelURL string) *config.Config {
	return &config.Config{
		OpenAI:  config.OpenAIConfig{APIKey: "sk-test", BaseURL: modelURL, Model: "gpt-4o-mini", TimeoutSeconds: 5},
		TourAPI: config.TourAPIConfig{ServiceKey: "tour-key", BaseURL: tourURL, Timeout: 5 * time.Second},
		Planner: config.PlannerConfig{MaxToolRounds: 4, DefaultTimezone: "UTC", MaxConcurrency: 2, PageLimit: 3},
		Cache:   config.CacheConfig{TTL: time.Minute},
		Log:     nlog.Config{Format: "text"},
	}
}

func TestApp_GeneratePlanEndToEnd(t *testing.T) {
	var tourHits, modelHits atomic.Int32
	cfg := testConfig(tourServer(t, &tourHits).URL, modelServer(t, &modelHits).URL)

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.Planner().ToolDefinitions(), 15)

	req := nomadly.PlanRequest{Destination: "부산", StartDate: "2024-03-01", EndDate: "2024-03-02", PreferredTime: "morning"}
	resp, err := a.Planner().GeneratePlan(context.Background(), req, "Asia/Seoul")
	require.NoError(t, err)

	require.Len(t, resp.Plan, 2)
	assert.Equal(t, "해변 산책", resp.Plan[0][0].Todo)
	assert.EqualValues(t, 1, tourHits.Load())
	assert.EqualValues(t, 3, modelHits.Load())

	// the second run is answered from the shared cache
	modelHits.Store(0)
	_, err = a.Planner().GeneratePlan(context.Background(), req, "Asia/Seoul")
	require.NoError(t, err)
	assert.EqualValues(t, 1, tourHits.Load())
}

func TestApp_ExecutorRunPaged(t *testing.T) {
	var tourHits atomic.Int32
	cfg := testConfig(tourServer(t, &tourHits).URL, "http://127.0.0.1:0")

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	exec, err := a.NewExecutor(context.Background())
	require.NoError(t, err)
	defer exec.Close()

	items, err := exec.RunPaged(context.Background(), "get_area_based_list", map[string]interface{}{"area_code": 6.0}, 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.EqualValues(t, 3, tourHits.Load())
}

func TestApp_AllowedTools(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0", "http://127.0.0.1:0")
	cfg.Planner.AllowedTools = []string{"get_search_keyword", "get_detail_common"}

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.Planner().ToolDefinitions(), 2)

	cfg.Planner.AllowedTools = []string{"get_weather"}
	_, err = New(cfg, nil)
	assert.True(t, nomadly.IsCode(err, nomadly.ErrCodeConfiguration))
}

func TestApp_RequiresModelKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0", "http://127.0.0.1:0")
	cfg.OpenAI.APIKey = ""

	_, err := New(cfg, nil)
	assert.True(t, nomadly.IsCode(err, nomadly.ErrCodeConfiguration))
}

func TestToolbox_WithoutModelKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0", "")
	cfg.OpenAI.APIKey = ""

	tb, err := NewToolbox(cfg, nil, nil)
	require.NoError(t, err)
	assert.Len(t, tb.Definitions(), 15)

	exec, err := tb.NewExecutor(context.Background())
	require.NoError(t, err)
	require.NoError(t, exec.Close())

	cfg.TourAPI.ServiceKey = ""
	_, err = tb.NewExecutor(context.Background())
	assert.Error(t, err)
}

func TestToolbox_UnreachableTourAPI(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tourURL := srv.URL
	srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tb, err := NewToolbox(testConfig(tourURL, ""), logger, nil)
	require.NoError(t, err)
	exec, err := tb.NewExecutor(context.Background())
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Dispatch(context.Background(), "get_location_based_list", map[string]interface{}{
		"map_x": 129.16, "map_y": 35.15, "radius": float64(1000),
	})
	require.Error(t, err)
	assert.Equal(t, classify.MsgGeneric, classify.Message(err))
	assert.Contains(t, logs.String(), "tool call failed")
	assert.NotContains(t, logs.String(), "tour-key")
	assert.NotContains(t, logs.String(), "serviceKey")
}
