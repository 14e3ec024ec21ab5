package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"plenario/internal/config"
	"plenario/internal/db"
	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("cam-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.InitChamber(context.Background(), cfg.Chamber.ID, "", "tester"); err != nil {
		t.Fatalf("init chamber: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func mustStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("status %d, want %d: %s", res.StatusCode, want, string(data))
	}
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %T: %v\nbody: %s", v, err, string(data))
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHealthWithoutAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	mustStatus(t, res, data, http.StatusOK)
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/propositions", nil, nil)
	mustStatus(t, res, data, http.StatusUnauthorized)
	var env errorEnvelope
	decode(t, data, &env)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("error code %q, want unauthorized", env.Error.Code)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"actor_id": "secretaria",
		"name":     "integration",
	}, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)
	var created APIKeyCreatedResponse
	decode(t, data, &created)
	if !strings.HasPrefix(created.Key, "plk_") {
		t.Fatalf("unexpected key format %q", created.Key)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/propositions", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	mustStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/propositions", nil, map[string]string{
		"X-Api-Key": "plk_wrong",
	})
	mustStatus(t, res, data, http.StatusUnauthorized)
}

func TestTramitacaoOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/flows/seed", nil, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/propositions", map[string]any{
		"category": "projeto_de_lei",
		"number":   "PL 12/2026",
		"title":    "Institui o programa municipal de hortas",
	}, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)
	var prop domain.Proposition
	decode(t, data, &prop)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/propositions/"+prop.ID+"/tramitacao", nil, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)
	var tram domain.Tramitacao
	decode(t, data, &tram)
	if tram.Status != domain.TramitacaoInProgress {
		t.Fatalf("tramitação status %q", tram.Status)
	}

	// Protocolo stage needs no opinion.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tramitacoes/"+tram.ID+"/advance", map[string]any{}, actorHeader)
	mustStatus(t, res, data, http.StatusOK)

	// Comissão de Justiça requires one.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tramitacoes/"+tram.ID+"/advance", map[string]any{}, actorHeader)
	mustStatus(t, res, data, http.StatusUnprocessableEntity)
	var env errorEnvelope
	decode(t, data, &env)
	if env.Error.Code != "missing_opinion" {
		t.Fatalf("error code %q, want missing_opinion", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tramitacoes/"+tram.ID+"/advance", map[string]any{
		"opinion": "favorável",
	}, actorHeader)
	mustStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/propositions/"+prop.ID+"/eligibility", nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)
	var elig engine.EligibilityResult
	decode(t, data, &elig)
	if !elig.Eligible {
		t.Fatalf("expected eligible, got %+v", elig)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tramitacoes/"+tram.ID, nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)
	var full TramitacaoResponse
	decode(t, data, &full)
	if len(full.Passages) != 3 {
		t.Fatalf("expected 3 stage passages, got %d", len(full.Passages))
	}
}

func TestSessionVotingOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/flows/seed", nil, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)

	var legislators []domain.Legislator
	for _, name := range []string{"Ana", "Bruno", "Clara"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/legislators", map[string]any{
			"name": name,
		}, actorHeader)
		mustStatus(t, res, data, http.StatusCreated)
		var l domain.Legislator
		decode(t, data, &l)
		legislators = append(legislators, l)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/propositions", map[string]any{
		"category": "projeto_de_lei",
		"number":   "PL 1/2026",
		"title":    "Denomina via pública",
	}, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)
	var prop domain.Proposition
	decode(t, data, &prop)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/propositions/"+prop.ID+"/tramitacao", nil, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)
	var tram domain.Tramitacao
	decode(t, data, &tram)
	for _, opinion := range []string{"", "favorável"} {
		body := map[string]any{}
		if opinion != "" {
			body["opinion"] = opinion
		}
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tramitacoes/"+tram.ID+"/advance", body, actorHeader)
		mustStatus(t, res, data, http.StatusOK)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"number":       1,
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	}, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)
	var session domain.Session
	decode(t, data, &session)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/generate", map[string]any{}, actorHeader)
	mustStatus(t, res, data, http.StatusCreated)
	var agenda domain.SessionAgenda
	decode(t, data, &agenda)
	if len(agenda.Items) != 1 {
		t.Fatalf("expected 1 agenda item, got %d", len(agenda.Items))
	}
	item := agenda.Items[0]
	if item.Section != domain.SectionOrderOfBusiness {
		t.Fatalf("item section %q", item.Section)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/agenda/publish", nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/sessions/"+session.ID+"/status", map[string]any{
		"status": domain.SessionInProgress,
	}, actorHeader)
	mustStatus(t, res, data, http.StatusOK)

	for _, l := range legislators {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+session.ID+"/presence", map[string]any{
			"legislator_id": l.ID,
			"present":       true,
		}, actorHeader)
		mustStatus(t, res, data, http.StatusOK)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/agenda-items/"+item.ID+"/status", map[string]any{
		"status": domain.ItemInDiscussion,
	}, actorHeader)
	mustStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agenda-items/"+item.ID+"/voting/open", nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)

	for i, choice := range []string{"yes", "yes", "no"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agenda-items/"+item.ID+"/votes", map[string]any{
			"legislator_id": legislators[i].ID,
			"choice":        choice,
		}, actorHeader)
		mustStatus(t, res, data, http.StatusOK)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agenda-items/"+item.ID+"/tally", nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)
	var tally domain.VoteTally
	decode(t, data, &tally)
	if tally.ValidVotes != 3 || tally.Threshold != 2 {
		t.Fatalf("tally valid=%d threshold=%d, want 3/2", tally.ValidVotes, tally.Threshold)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agenda-items/"+item.ID+"/voting/close", nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)
	decode(t, data, &tally)
	if tally.Resolution != domain.ResolutionApproved {
		t.Fatalf("resolution %q, want approved", tally.Resolution)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/sessions/"+session.ID+"/status", map[string]any{
		"status": domain.SessionConcluded,
	}, actorHeader)
	mustStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+session.ID+"/minutes", nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)
	var minutes MinutesResponse
	decode(t, data, &minutes)
	if !strings.Contains(minutes.Text, "ATA DA 1ª SESSÃO") {
		t.Fatalf("minutes missing header:\n%s", minutes.Text)
	}
	if !strings.Contains(minutes.Text, "2 sim, 1 não") {
		t.Fatalf("minutes missing tally line:\n%s", minutes.Text)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=voting.closed", nil, actorHeader)
	mustStatus(t, res, data, http.StatusOK)
	var events []domain.Event
	decode(t, data, &events)
	if len(events) != 1 {
		t.Fatalf("expected 1 voting.closed event, got %d", len(events))
	}
}
