package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureTestSessionChannels(t *testing.T) {
	var gotPath, gotAuth, gotTTSKey string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotTTSKey = r.Header.Get("X-ElevenLabs-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(Channels{
			TextChannelID:  "text-1",
			VoiceChannelID: "voice-1",
		})
	}))
	defer srv.Close()

	c := NewBridgeCoordinator(srv.URL, "bot-token", "el-key")
	ch, err := c.EnsureTestSessionChannels(context.Background(), "guild-1", "test-1")
	require.NoError(t, err)

	assert.Equal(t, "/sessions/channels", gotPath)
	assert.Equal(t, "Bearer bot-token", gotAuth)
	assert.Equal(t, "el-key", gotTTSKey)
	assert.Equal(t, map[string]string{"guildId": "guild-1", "testId": "test-1"}, gotBody)
	assert.Equal(t, "text-1", ch.TextChannelID)
	assert.Equal(t, "voice-1", ch.VoiceChannelID)
}

func TestEnsureTestSessionChannels_NoTextChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Channels{})
	}))
	defer srv.Close()

	c := NewBridgeCoordinator(srv.URL, "", "")
	_, err := c.EnsureTestSessionChannels(context.Background(), "guild-1", "test-1")
	assert.ErrorContains(t, err, "no text channel")
}

func TestSpeakAsAgent_BridgeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice session not joined", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewBridgeCoordinator(srv.URL, "bot-token", "el-key")
	err := c.SpeakAsAgent(context.Background(), "agent-1", "hello")
	require.Error(t, err)
	assert.ErrorContains(t, err, "409")
	assert.ErrorContains(t, err, "voice session not joined")
}

// Optional headers are omitted when the coordinator has no token or key.
func TestPost_NoOptionalHeaders(t *testing.T) {
	var sawAuth, sawTTSKey bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		_, sawTTSKey = r.Header["X-Elevenlabs-Key"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBridgeCoordinator(srv.URL, "", "")
	require.NoError(t, c.LeaveVoice(context.Background(), "guild-1"))
	assert.False(t, sawAuth)
	assert.False(t, sawTTSKey)
}
