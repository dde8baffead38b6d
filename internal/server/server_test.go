package server

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/graph-memory-service/internal/broadcast"
	"github.com/graph-memory-service/internal/config"
	"github.com/graph-memory-service/internal/extraction"
	"github.com/graph-memory-service/internal/factindex"
	"github.com/graph-memory-service/internal/graph"
	"github.com/graph-memory-service/internal/jsonx"
	"github.com/graph-memory-service/internal/llm"
	"github.com/graph-memory-service/internal/memerr"
	"github.com/graph-memory-service/internal/memory"
)

type fakeStore struct {
	episodes  []graph.Episode
	entities  map[string]string
	relations []graph.Relation
	nextUID   int
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entities: make(map[string]string)}
}

func (f *fakeStore) uid() string {
	f.nextUID++
	return "0x" + strings.Repeat("f", f.nextUID)
}

func (f *fakeStore) CreateEpisode(ctx context.Context, ep *graph.Episode) (string, error) {
	f.episodes = append(f.episodes, *ep)
	return f.uid(), nil
}

func (f *fakeStore) EnsureEntity(ctx context.Context, groupID, name string) (string, error) {
	key := groupID + "/" + name
	if uid, ok := f.entities[key]; ok {
		return uid, nil
	}
	uid := f.uid()
	f.entities[key] = uid
	return uid, nil
}

func (f *fakeStore) EnsureRelation(ctx context.Context, rel *graph.Relation) (string, bool, error) {
	stored := *rel
	stored.UID = f.uid()
	f.relations = append(f.relations, stored)
	return stored.UID, true, nil
}

func (f *fakeStore) RelationsByUIDs(ctx context.Context, groupID string, uids []string) ([]graph.Relation, error) {
	var out []graph.Relation
	for _, rel := range f.relations {
		if rel.GroupID != groupID {
			continue
		}
		for _, uid := range uids {
			if rel.UID == uid {
				out = append(out, rel)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListEntities(ctx context.Context, groupID string) ([]graph.Entity, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []graph.Entity
	for key, uid := range f.entities {
		group, name, _ := strings.Cut(key, "/")
		if group == groupID {
			out = append(out, graph.Entity{UID: uid, Name: name, GroupID: groupID})
		}
	}
	return out, nil
}

func (f *fakeStore) ListRelations(ctx context.Context, groupID string) ([]graph.Relation, error) {
	var out []graph.Relation
	for _, rel := range f.relations {
		if rel.GroupID == groupID {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeIndex struct {
	docs      []factindex.Doc
	searchErr error
}

func (f *fakeIndex) AddBatch(ctx context.Context, docs []factindex.Doc) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, groupID, question string, limit int) ([]factindex.Hit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var hits []factindex.Hit
	score := 1.0
	for _, d := range f.docs {
		if d.GroupID == groupID {
			hits = append(hits, factindex.Hit{UID: d.UID, Score: score})
			score *= 0.9
		}
	}
	return hits, nil
}

func (f *fakeIndex) Close() error { return nil }

type fakeExtractor struct {
	triples []extraction.Triple
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) ([]extraction.Triple, error) {
	return f.triples, nil
}

type fakeChat struct {
	reply string
}

func (f *fakeChat) Complete(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	return f.reply, nil
}

type env struct {
	store *fakeStore
	index *fakeIndex
	hub   *broadcast.Hub
	ts    *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.Config, triples []extraction.Triple, reply string) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := newFakeStore()
	index := &fakeIndex{}
	hub := broadcast.NewHub(nil, logger)
	svc := memory.New(store, index, &fakeExtractor{triples: triples}, &fakeChat{reply: reply}, hub, logger)
	t.Cleanup(svc.Close)

	srv := NewServer(svc, cfg, logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &env{store: store, index: index, hub: hub, ts: ts}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.MaxUploadBytes = 1 << 20
	return cfg
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := jsonx.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, jsonx.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, testConfig(), nil, "")
	resp, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}

func TestAddTextSuccess(t *testing.T) {
	e := newTestEnv(t, testConfig(), []extraction.Triple{
		{Source: "Alice", Relation: "works_at", Target: "Acme", Fact: "Alice works at Acme"},
	}, "")

	resp := postJSON(t, e.ts.URL+"/memory/text", map[string]string{
		"text":     "Alice works at Acme",
		"user_id":  "u1",
		"category": "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success     bool   `json:"success"`
		UserID      string `json:"user_id"`
		Category    string `json:"category"`
		GroupID     string `json:"group_id"`
		EpisodeUUID string `json:"episode_uuid"`
	}
	decodeBody(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "u1", body.UserID)
	require.Equal(t, "work", body.Category)
	require.NotEmpty(t, body.GroupID)
	require.NotEmpty(t, body.EpisodeUUID)
	require.Len(t, e.store.episodes, 1)
}

func TestAddTextValidation(t *testing.T) {
	e := newTestEnv(t, testConfig(), nil, "")

	cases := []map[string]string{
		{"user_id": "u1", "category": "work"},
		{"text": "hi", "category": "work"},
		{"text": "hi", "user_id": "u1"},
	}
	for _, body := range cases {
		resp := postJSON(t, e.ts.URL+"/memory/text", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}
	require.Empty(t, e.store.episodes, "invalid requests must not reach the store")
}

func TestUploadPlainText(t *testing.T) {
	e := newTestEnv(t, testConfig(), []extraction.Triple{
		{Source: "Bob", Relation: "lives_in", Target: "Berlin", Fact: "Bob lives in Berlin"},
	}, "")

	resp := postUpload(t, e.ts.URL, "notes.txt", "text/plain", "Bob lives in Berlin.", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
	}
	decodeBody(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "Content from uploaded file: notes.txt", e.store.episodes[0].SourceDescription)
}

func TestUploadUnsupportedType(t *testing.T) {
	e := newTestEnv(t, testConfig(), nil, "")

	resp := postUpload(t, e.ts.URL, "data.json", "application/json", `{"a":1}`, nil)
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	resp.Body.Close()
	require.Empty(t, e.store.episodes, "unsupported uploads must not reach the store")
}

func postUpload(t *testing.T, baseURL, filename, contentType, content string, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fh := textproto.MIMEHeader{}
	fh.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	fh.Set("Content-Type", contentType)
	part, err := mw.CreatePart(fh)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)

	require.NoError(t, mw.WriteField("user_id", "u1"))
	require.NoError(t, mw.WriteField("category", "work"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, baseURL+"/memory/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRAGFlow(t *testing.T) {
	e := newTestEnv(t, testConfig(), []extraction.Triple{
		{Source: "Alice", Relation: "works_at", Target: "Acme", Fact: "Alice works at Acme"},
	}, "Alice works at Acme.")

	resp := postJSON(t, e.ts.URL+"/memory/text", map[string]string{
		"text": "Alice works at Acme", "user_id": "u1", "category": "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, e.ts.URL+"/query/rag", map[string]string{
		"question": "Where does Alice work?", "user_id": "u1", "category": "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Answer         string `json:"answer"`
		RetrievedFacts []struct {
			Source string `json:"source"`
			Target string `json:"target"`
		} `json:"retrieved_facts"`
	}
	decodeBody(t, resp, &body)
	require.Contains(t, body.Answer, "Acme")
	require.NotEmpty(t, body.RetrievedFacts)
	require.Equal(t, "Alice", body.RetrievedFacts[0].Source)
	require.Equal(t, "Acme", body.RetrievedFacts[0].Target)
}

func TestVisualizeEmptyGroup(t *testing.T) {
	e := newTestEnv(t, testConfig(), nil, "")

	resp, err := http.Get(e.ts.URL + "/query/visualize?user_id=u1&category=work")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Nodes []interface{} `json:"nodes"`
		Edges []interface{} `json:"edges"`
	}
	raw := new(bytes.Buffer)
	_, err = raw.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.NoError(t, jsonx.Unmarshal(raw.Bytes(), &body))
	// Empty lists, not nulls.
	require.Contains(t, raw.String(), `"nodes":[]`)
	require.Contains(t, raw.String(), `"edges":[]`)
}

func TestVisualizeAfterIngestion(t *testing.T) {
	e := newTestEnv(t, testConfig(), []extraction.Triple{
		{Source: "Alice", Relation: "works_at", Target: "Acme", Fact: "Alice works at Acme"},
	}, "")

	resp := postJSON(t, e.ts.URL+"/memory/text", map[string]string{
		"text": "Alice works at Acme", "user_id": "u1", "category": "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(e.ts.URL + "/query/visualize?user_id=u1&category=work")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		Nodes []struct {
			Data struct {
				Label string `json:"label"`
			} `json:"data"`
		} `json:"nodes"`
		Edges []struct {
			Label string `json:"label"`
		} `json:"edges"`
	}
	decodeBody(t, resp, &view)
	require.Len(t, view.Nodes, 2)
	require.Len(t, view.Edges, 1)
	require.Equal(t, "works_at", view.Edges[0].Label)

	labels := []string{view.Nodes[0].Data.Label, view.Nodes[1].Data.Label}
	require.ElementsMatch(t, []string{"Alice", "Acme"}, labels)
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestTokenModeAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	e := newTestEnv(t, cfg, []extraction.Triple{
		{Source: "A", Relation: "r", Target: "B", Fact: "A r B"},
	}, "")

	body := map[string]string{"text": "A r B", "category": "work"}
	data, err := jsonx.Marshal(body)
	require.NoError(t, err)

	// No token.
	resp, err := http.Post(e.ts.URL+"/memory/text", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Valid token: user comes from the subject claim.
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/memory/text", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, cfg.Auth.JWTSecret, "alice"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res struct {
		Success bool   `json:"success"`
		UserID  string `json:"user_id"`
	}
	decodeBody(t, resp, &res)
	require.True(t, res.Success)
	require.Equal(t, "alice", res.UserID)

	// Explicit user_id disagreeing with the token is rejected.
	mismatch, err := jsonx.Marshal(map[string]string{
		"text": "A r B", "category": "work", "user_id": "mallory",
	})
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodPost, e.ts.URL+"/memory/text", bytes.NewReader(mismatch))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, cfg.Auth.JWTSecret, "alice"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRecentEpisodesWithoutCache(t *testing.T) {
	e := newTestEnv(t, testConfig(), nil, "")

	resp, err := http.Get(e.ts.URL + "/memory/recent?user_id=u1&category=work")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Episodes []interface{} `json:"episodes"`
	}
	decodeBody(t, resp, &body)
	require.Empty(t, body.Episodes)

	resp, err = http.Get(e.ts.URL + "/memory/recent?user_id=u1")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGraphUpdatesWebSocket(t *testing.T) {
	e := newTestEnv(t, testConfig(), []extraction.Triple{
		{Source: "A", Relation: "r", Target: "B", Fact: "A r B"},
	}, "")

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/graph/updates"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription registers on the server side shortly after the
	// handshake completes.
	require.Eventually(t, func() bool { return e.hub.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	resp := postJSON(t, e.ts.URL+"/memory/text", map[string]string{
		"text": "A r B", "user_id": "u1", "category": "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "graph_updated", string(payload))

	// Liveness probe round trip.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "pong", string(payload))
}

func TestWriteJSONMarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]interface{}{"ch": make(chan int)})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"response encoding failed"}`, rec.Body.String())
}

func TestQueryPathsMapUpstreamFailuresToBadGateway(t *testing.T) {
	e := newTestEnv(t, testConfig(), nil, "")

	e.index.searchErr = errors.New("index offline")
	resp := postJSON(t, e.ts.URL+"/query/rag", map[string]string{
		"question": "anything?", "user_id": "u1", "category": "work",
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()

	e.store.listErr = memerr.NewUpstream("dgraph", "list entities", errors.New("connection refused"))
	resp, err := http.Get(e.ts.URL + "/query/visualize?user_id=u1&category=work")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()
}

func TestWebSocketClosedWhenSubscriptionDropped(t *testing.T) {
	e := newTestEnv(t, testConfig(), nil, "")

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/graph/updates"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.hub.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	// A hub-side drop must surface as a closed connection so the client
	// can reconnect, not as a silently dead feed.
	e.hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}
