package slackbot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"qclog/internal/domain"
	"qclog/internal/logger"
)

type mockSlack struct {
	mu       sync.Mutex
	calls    map[string]int
	lastForm map[string]string
}

func newMockSlack(t *testing.T) (*Notifier, *mockSlack) {
	t.Helper()
	m := &mockSlack{calls: map[string]int{}, lastForm: map[string]string{}}
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := strings.TrimPrefix(r.URL.Path, "/api/")
		m.mu.Lock()
		m.calls[method]++
		for k := range r.Form {
			m.lastForm[k] = r.Form.Get(k)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "chat.postMessage":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C123", "ts": "1700000000.000100"})
		case "files.getUploadURLExternal":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "upload_url": server.URL + "/upload", "file_id": "F123"})
		case "files.completeUploadExternal":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "files": []map[string]any{{"id": "F123", "title": "digest"}}})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	t.Cleanup(server.Close)

	n := New("xoxb-test", "C123", logger.Nop(), slack.OptionAPIURL(server.URL+"/api/"))
	return n, m
}

func failingRecords() []domain.Record {
	return []domain.Record{
		{Hole: "H3", Feature: domain.Outer, Value: domain.Float(9.81), LSL: domain.Float(8.7), USL: domain.Float(9.7), Status: domain.StatusFail},
		{Hole: "H1", Feature: domain.Inner, Status: domain.StatusFail},
	}
}

func TestSendFailAlert(t *testing.T) {
	n, m := newMockSlack(t)
	err := n.SendFailAlert(context.Background(), FailAlert{
		PartType:  domain.MixingBlock,
		PieceID:   "P-77",
		Machine:   "SA01",
		Timestamp: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
		Failures:  failingRecords(),
		Total:     8,
		Path:      "/data/qc.xlsx",
	})
	if err != nil {
		t.Fatalf("SendFailAlert: %v", err)
	}
	if m.calls["chat.postMessage"] != 1 {
		t.Fatalf("expected one chat.postMessage call, got %v", m.calls)
	}
	if m.lastForm["channel"] != "C123" {
		t.Fatalf("unexpected channel %q", m.lastForm["channel"])
	}
	if !strings.Contains(m.lastForm["text"], "2 of 8 readings FAIL") {
		t.Fatalf("unexpected fallback text %q", m.lastForm["text"])
	}
	blocks := m.lastForm["blocks"]
	if !strings.Contains(blocks, "QC FAIL: MI P-77") || !strings.Contains(blocks, "qc.xlsx") {
		t.Fatalf("unexpected blocks %s", blocks)
	}
	if strings.Index(blocks, "H1 Inner") > strings.Index(blocks, "H3 Outer") {
		t.Fatalf("failures should be listed in hole order: %s", blocks)
	}
}

func TestSendFailAlertSkipsWhenNothingFailed(t *testing.T) {
	n, m := newMockSlack(t)
	if err := n.SendFailAlert(context.Background(), FailAlert{PieceID: "P-1"}); err != nil {
		t.Fatalf("SendFailAlert: %v", err)
	}
	if len(m.calls) != 0 {
		t.Fatalf("expected no Slack calls, got %v", m.calls)
	}
}

func TestFailLine(t *testing.T) {
	recs := failingRecords()
	if got := failLine(recs[0]); got != "• H3 Outer: 9.810 (limits 8.70 to 9.70)" {
		t.Fatalf("unexpected line %q", got)
	}
	if got := failLine(recs[1]); got != "• H1 Inner: no value (no spec)" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestPostDigestUploadsFile(t *testing.T) {
	n, m := newMockSlack(t)
	path := filepath.Join(t.TempDir(), "qc_digest_20240502.md")
	if err := os.WriteFile(path, []byte("# digest\n"), 0o644); err != nil {
		t.Fatalf("write digest: %v", err)
	}
	if err := n.PostDigest(context.Background(), "2 features need attention", path); err != nil {
		t.Fatalf("PostDigest: %v", err)
	}
	if m.calls["files.getUploadURLExternal"] != 1 || m.calls["files.completeUploadExternal"] != 1 {
		t.Fatalf("unexpected upload calls %v", m.calls)
	}

	empty := filepath.Join(t.TempDir(), "empty.md")
	_ = os.WriteFile(empty, nil, 0o644)
	if err := n.PostDigest(context.Background(), "x", empty); err == nil {
		t.Fatal("expected error for empty digest file")
	}
}
