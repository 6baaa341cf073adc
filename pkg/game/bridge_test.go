package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeClient_CreateBot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/bots", r.URL.Path)

		var opts CreateBotOptions
		require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
		assert.Equal(t, "TargetAgent", opts.Username)
		assert.Equal(t, 25565, opts.Port)

		_ = json.NewEncoder(w).Encode(map[string]string{"botId": "bot-42"})
	}))
	defer srv.Close()

	client := NewBridgeClient(srv.URL)
	botID, err := client.CreateBot(context.Background(), CreateBotOptions{
		Username: "TargetAgent",
		Host:     "localhost",
		Port:     25565,
	})
	require.NoError(t, err)
	assert.Equal(t, "bot-42", botID)
}

func TestBridgeClient_CreateBot_EmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := NewBridgeClient(srv.URL).CreateBot(context.Background(), CreateBotOptions{})
	assert.ErrorContains(t, err, "empty botId")
}

func TestBridgeClient_ErrorMessageSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "bot timed out joining world"})
	}))
	defer srv.Close()

	_, err := NewBridgeClient(srv.URL).GetState(context.Background(), "bot-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "502")
	assert.ErrorContains(t, err, "bot timed out joining world")
}

func TestBridgeClient_ActionBody(t *testing.T) {
	var got actionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bots/bot-1/actions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewBridgeClient(srv.URL)
	require.NoError(t, client.PathfindTo(context.Background(), "bot-1", 10, 64, -3, 1.5))

	assert.Equal(t, "pathfind", got.Type)
	require.NotNil(t, got.X)
	assert.Equal(t, 10.0, *got.X)
	require.NotNil(t, got.Z)
	assert.Equal(t, -3.0, *got.Z)
	assert.Equal(t, 1.5, got.Arrive)
}

func TestBridgeClient_FindNearestBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bots/bot-1/find-blocks", r.URL.Path)

		var req struct {
			Matching []string `json:"matching"`
			Limit    int      `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"chest"}, req.Matching)
		assert.Equal(t, 1, req.Limit)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"blocks": []map[string]any{
				{"name": "chest", "position": map[string]float64{"x": 3, "y": 64, "z": 3}},
			},
		})
	}))
	defer srv.Close()

	client := NewBridgeClient(srv.URL)
	block, err := client.FindNearestBlock(context.Background(), "bot-1", "chest", 16)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, "chest", block.Name)
	assert.Equal(t, 3.0, block.Position.X)
}

func TestBridgeClient_FindNearestBlock_None(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"blocks": []any{}})
	}))
	defer srv.Close()

	block, err := NewBridgeClient(srv.URL).FindNearestBlock(context.Background(), "bot-1", "chest", 16)
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestBridgeClient_ContainerRoundTrip(t *testing.T) {
	var withdrew struct {
		ItemType string `json:"itemType"`
		Count    int    `json:"count"`
	}
	closed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bots/bot-1/container/open":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"containerId": "c-1",
				"items":       []map[string]any{{"slot": 0, "name": "oak_planks", "count": 32}},
			})
		case "/bots/bot-1/container/c-1/withdraw":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&withdrew))
			w.WriteHeader(http.StatusOK)
		case "/bots/bot-1/container/c-1/close":
			closed = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewBridgeClient(srv.URL)

	container, err := client.OpenContainer(ctx, "bot-1", 3, 64, 3)
	require.NoError(t, err)

	items, err := container.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "oak_planks", items[0].Name)

	require.NoError(t, container.Withdraw(ctx, "oak_planks", 16))
	assert.Equal(t, "oak_planks", withdrew.ItemType)
	assert.Equal(t, 16, withdrew.Count)

	require.NoError(t, container.Close(ctx))
	assert.True(t, closed)
}
