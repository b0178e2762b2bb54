package client_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/policeintel/auditledger/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/ledger", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": 2, "root": "abc"})
	})

	mux.HandleFunc("/api/v1/ledger/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"intact": false, "state": "COMPROMISED", "length": 3, "checked": 1,
			"brokenAt": 1, "reason": "CONTENT_TAMPERED",
		})
	})

	mux.HandleFunc("/api/v1/ledger/entries", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"entries": []map[string]any{
					{"index": 1, "action": "SHARE_EVIDENCE", "actorId": "u2"},
					{"index": 0, "action": "CREATE_CASE", "actorId": "u1"},
				},
				"limit":  r.URL.Query().Get("limit"),
				"offset": r.URL.Query().Get("offset"),
			})
		case http.MethodPost:
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "missing actor token"})
				return
			}
			var req client.AppendRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "action required"})
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"index": 2, "action": req.Action, "resource": req.Resource,
				"details": req.Details, "actorId": "u1",
			})
		}
	})

	mux.HandleFunc("/api/v1/ledger/entries/0", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"index": 0, "prevHash": "0", "hash": "h0"})
	})
	mux.HandleFunc("/api/v1/ledger/entries/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "entry not found"})
	})

	mux.HandleFunc("/api/v1/custody/records", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		content, _ := base64.StdEncoding.DecodeString(body["content_base64"])
		if string(content) != "evidence-bytes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "rec-1", "artifactRef": body["artifact_ref"], "algorithm": "sha256",
			"storedDigest": "3c2cc14b5c5beb243cf6ce364e02599dadd6ebccbd186c230f9f2139209ab7be",
		})
	})
	mux.HandleFunc("/api/v1/custody/records/rec-1/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"recordId": "rec-1", "verified": true, "reference": "CV-3C2CC14B5C5B",
		})
	})

	up := websocket.Upgrader{}
	mux.HandleFunc("/api/v1/ledger/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{
			"type":  "ledger.entry_appended",
			"entry": map[string]any{"index": 5, "action": "CREATE_CASE"},
		})
		// Hold the connection until the client goes away.
		conn.ReadMessage()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// ── Constructor ─────────────────────────────────────────────────────────

func TestNew_InvalidURL(t *testing.T) {
	for _, base := range []string{"", "ftp://x", "not a url", "http://"} {
		if _, err := client.New(base); err == nil {
			t.Errorf("New(%q): expected error", base)
		}
	}
}

func TestWithActor_RequiresIdentity(t *testing.T) {
	if _, err := client.New("http://localhost", client.WithActor("", "", "DETECTIVE")); err == nil {
		t.Error("expected error for actor without id or badge")
	}
}

// ── Ledger ──────────────────────────────────────────────────────────────

func TestOverview(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL)

	ov, err := c.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if ov.Entries != 2 || ov.Root != "abc" {
		t.Errorf("Overview = %+v", ov)
	}
}

func TestVerify_Compromised(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL)

	v, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Intact || v.State != "COMPROMISED" {
		t.Errorf("expected compromised, got %+v", v)
	}
	if v.BrokenAt == nil || *v.BrokenAt != 1 || v.Reason != "CONTENT_TAMPERED" {
		t.Errorf("unexpected finding: %+v", v)
	}
}

func TestEntries_NewestFirst(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL)

	entries, err := c.Entries(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Index != 1 || entries[1].Action != "CREATE_CASE" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestEntry_Found(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL)

	e, err := c.Entry(context.Background(), 0)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if e.PrevHash != "0" || e.Hash != "h0" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestEntry_NotFound(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL)

	_, err := c.Entry(context.Background(), 9)
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppend(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL, client.WithBearerToken("tok"))

	e, err := c.Append(context.Background(), client.AppendRequest{
		Action:   "SHARE_EVIDENCE",
		Resource: "EV-1",
		Details:  map[string]any{"with": "lab"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.Index != 2 || e.Action != "SHARE_EVIDENCE" || e.Details["with"] != "lab" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestAppend_Unauthorized(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL)

	_, err := c.Append(context.Background(), client.AppendRequest{Action: "X"})
	if err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("expected unauthorized error, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "missing actor token") {
		t.Errorf("expected server message in error, got %v", err)
	}
}

func TestAppend_BadRequest(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL, client.WithBearerToken("tok"))

	_, err := c.Append(context.Background(), client.AppendRequest{})
	if err == nil || !strings.Contains(err.Error(), "server error 400") {
		t.Errorf("expected 400 error, got %v", err)
	}
}

// ── Custody ─────────────────────────────────────────────────────────────

func TestFingerprintAndVerifyCustody(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL, client.WithBearerToken("tok"))
	ctx := context.Background()

	rec, err := c.Fingerprint(ctx, "EV-1/photo.jpg", []byte("evidence-bytes"), "")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if rec.ID != "rec-1" || rec.ArtifactRef != "EV-1/photo.jpg" {
		t.Errorf("unexpected record: %+v", rec)
	}

	res, err := c.VerifyCustody(ctx, rec.ID)
	if err != nil {
		t.Fatalf("VerifyCustody: %v", err)
	}
	if !res.Verified || res.Reference != "CV-3C2CC14B5C5B" {
		t.Errorf("unexpected result: %+v", res)
	}
}

// ── Stream ──────────────────────────────────────────────────────────────

func TestTail(t *testing.T) {
	srv := stubLedgerServer(t)
	c := client.MustNew(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stop := errors.New("stop")
	var got client.Event
	err := c.Tail(ctx, func(ev client.Event) error {
		got = ev
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Tail: %v", err)
	}
	if got.Type != "ledger.entry_appended" || got.Entry == nil || got.Entry.Index != 5 {
		t.Errorf("unexpected event: %+v", got)
	}
}
