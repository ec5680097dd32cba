package orchestration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/config"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

func newStoreClient(baseURL string) *SessionStoreClient {
	client := NewSessionStoreClient(config.StoreConfig{
		BaseURL:  baseURL,
		Timeout:  5 * time.Second,
		CacheTTL: time.Minute,
		CacheMax: 16,
	})
	return client
}

func TestSessionStoreClient_ListSessions(t *testing.T) {
	tests := []struct {
		name           string
		search         string
		serverResponse func(t *testing.T, w http.ResponseWriter, r *http.Request)
		expectedError  string
		expectedCount  int
	}{
		{
			name: "lists_sessions_for_owner",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "GET", r.Method)
				assert.Equal(t, "/chat/sessions", r.URL.Path)
				assert.Equal(t, "owner-1", r.URL.Query().Get("user_id"))

				json.NewEncoder(w).Encode(listSessionsResponse{
					Success: true,
					Sessions: []models.SessionSummary{
						{ID: "s1", Title: "card"},
						{ID: "s2", Title: "banner"},
					},
				})
			},
			expectedCount: 2,
		},
		{
			name:   "search_uses_search_endpoint",
			search: "hero banner",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat/sessions/search", r.URL.Path)
				assert.Equal(t, "hero banner", r.URL.Query().Get("q"))
				json.NewEncoder(w).Encode(listSessionsResponse{Success: true})
			},
			expectedCount: 0,
		},
		{
			name: "server_error",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"message":"store down"}`))
			},
			expectedError: "failed to list sessions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.serverResponse(t, w, r)
			}))
			defer server.Close()

			client := newStoreClient(server.URL)
			sessions, err := client.ListSessions(context.Background(), "owner-1", tt.search)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Len(t, sessions, tt.expectedCount)
		})
	}
}

func TestSessionStoreClient_GetSession(t *testing.T) {
	t.Run("returns_full_projection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/sessions/s1", r.URL.Path)
			json.NewEncoder(w).Encode(getSessionResponse{
				Success: true,
				Session: &models.Session{
					ID:        "s1",
					Title:     "card",
					Messages:  []models.Message{{ID: "m1", Role: models.RoleUser, Text: "make a card"}},
					Artifacts: []models.Artifact{{ID: "a1", Target: models.TargetCMS}},
				},
			})
		}))
		defer server.Close()

		client := newStoreClient(server.URL)
		sess, err := client.GetSession(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", sess.ID)
		assert.Len(t, sess.Messages, 1)
		assert.Len(t, sess.Artifacts, 1)
	})

	t.Run("not_found_maps_to_sentinel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"no such session"}`))
		}))
		defer server.Close()

		client := newStoreClient(server.URL)
		_, err := client.GetSession(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("connection_refused_is_classified", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := newStoreClient(server.URL)
		_, err := client.GetSession(context.Background(), "s1")
		require.Error(t, err)
		var collab *CollabError
		require.ErrorAs(t, err, &collab)
		assert.True(t, collab.ConnectionRefused())
	})
}

func TestSessionStoreClient_GetSession_Caching(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(getSessionResponse{
			Success: true,
			Session: &models.Session{ID: "s1", Title: "card"},
		})
	}))
	defer server.Close()

	client := newStoreClient(server.URL)

	_, err := client.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	_, err = client.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second read must come from the cache")

	client.Invalidate("s1")
	_, err = client.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, hits, "invalidation must force a refetch")
}

func TestSessionStoreClient_CreateSession(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(t *testing.T, w http.ResponseWriter, r *http.Request)
		expectedError  string
		expectedID     string
	}{
		{
			name: "creates_session",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/chat/sessions", r.URL.Path)

				var req createSessionRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "make a card", req.SessionTitle)
				assert.Equal(t, "owner-1", req.UserID)

				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(createSessionResponse{Success: true, SessionID: "s-new"})
			},
			expectedID: "s-new",
		},
		{
			name: "store_rejection",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(createSessionResponse{Success: false, Message: "quota exceeded"})
			},
			expectedError: "quota exceeded",
		},
		{
			name: "server_error",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectedError: "status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.serverResponse(t, w, r)
			}))
			defer server.Close()

			client := newStoreClient(server.URL)
			id, err := client.CreateSession(context.Background(), "make a card", "owner-1")

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedID, id)
		})
	}
}

func TestSessionStoreClient_DeleteSession(t *testing.T) {
	deleted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(getSessionResponse{
				Success: true,
				Session: &models.Session{ID: "s1"},
			})
		case http.MethodDelete:
			assert.Equal(t, "/chat/sessions/s1", r.URL.Path)
			deleted = true
			json.NewEncoder(w).Encode(ackResponse{Success: true})
		}
	}))
	defer server.Close()

	client := newStoreClient(server.URL)

	// Warm the cache, then delete; the projection must not survive.
	_, err := client.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, client.DeleteSession(context.Background(), "s1"))
	assert.True(t, deleted)

	_, ok := client.cache.Get("s1")
	assert.False(t, ok)
}
