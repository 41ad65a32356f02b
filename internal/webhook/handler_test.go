package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// recordingBroadcaster captures every fan-out call.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastCall
}

type broadcastCall struct {
	From, Body, Timestamp string
}

func (b *recordingBroadcaster) BroadcastMessage(from, body, timestamp string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastCall{From: from, Body: body, Timestamp: timestamp})
}

func (b *recordingBroadcaster) calls() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.events...)
}

func deliveryPayload(messages ...string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "151", "phone_number_id": "pn-1"},
					"messages": [%s]
				}
			}]
		}]
	}`, strings.Join(messages, ","))
}

func textMessage(id, from, body, ts string) string {
	return fmt.Sprintf(`{"from":%q,"id":%q,"timestamp":%q,"type":"text","text":{"body":%q}}`, from, id, ts, body)
}

func TestVerificationEchoesChallenge(t *testing.T) {
	h := NewHandler("secret-token", "", &recordingBroadcaster{}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=challenge-42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "challenge-42" {
		t.Fatalf("body = %q, want the literal challenge", body)
	}
}

func TestVerificationRejects(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=c"},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=secret-token&hub.challenge=c"},
		{"missing params", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler("secret-token", "", &recordingBroadcaster{}, nil)
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tc.query, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", rec.Code)
			}
			if strings.Contains(rec.Body.String(), "c") && strings.TrimSpace(rec.Body.String()) == "c" {
				t.Fatal("challenge must not be echoed on rejection")
			}
		})
	}
}

func TestDeliveryBroadcastsEachMessage(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "", bc, nil)

	payload := deliveryPayload(
		textMessage("m1", "237671178991", "hello", "1700000001"),
		textMessage("m2", "15550001111", "second", "1700000002"),
	)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("body = %q, want status ok", body)
	}

	calls := bc.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d broadcasts, want 2", len(calls))
	}
	want := []broadcastCall{
		{From: "237671178991", Body: "hello", Timestamp: "1700000001"},
		{From: "15550001111", Body: "second", Timestamp: "1700000002"},
	}
	for i, c := range calls {
		if c != want[i] {
			t.Errorf("broadcast %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestDeliverySkipsNonMessageChanges(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "", bc, nil)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{"field": "statuses", "value": {"messaging_product": "whatsapp"}}]
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(bc.calls()) != 0 {
		t.Fatalf("got %d broadcasts, want 0", len(bc.calls()))
	}
}

func TestDeliveryDedupsRedelivery(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "", bc, nil)

	payload := deliveryPayload(textMessage("m1", "237671178991", "hello", "1700000001"))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rec.Code)
		}
	}

	if len(bc.calls()) != 1 {
		t.Fatalf("got %d broadcasts after redelivery, want 1", len(bc.calls()))
	}
}

func TestDeliveryRejectsBadSignature(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "app-secret", bc, nil)

	payload := deliveryPayload(textMessage("m1", "237671178991", "hello", "1700000001"))
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(bc.calls()) != 0 {
		t.Fatal("no broadcast expected on signature failure")
	}
}

func TestDeliveryAcceptsValidSignature(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "app-secret", bc, nil)

	payload := deliveryPayload(textMessage("m1", "237671178991", "hello", "1700000001"))
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(payload))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(bc.calls()) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(bc.calls()))
	}
}

func TestDeliveryRejectsMalformedJSON(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "", bc, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(bc.calls()) != 0 {
		t.Fatal("no broadcast expected for malformed payload")
	}
}

func TestDeliveryIgnoresOtherObjects(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "", bc, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"object":"instagram","entry":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(bc.calls()) != 0 {
		t.Fatal("no broadcast expected for non-whatsapp object")
	}
}

func TestUnsupportedMethod(t *testing.T) {
	h := NewHandler("secret-token", "", &recordingBroadcaster{}, nil)

	req := httptest.NewRequest(http.MethodPut, "/webhook", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestCleanSeenAllowsReprocessing(t *testing.T) {
	bc := &recordingBroadcaster{}
	h := NewHandler("secret-token", "", bc, nil)

	payload := deliveryPayload(textMessage("m1", "237671178991", "hello", "1700000001"))
	post := func() {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		io.Copy(io.Discard, rec.Result().Body)
	}

	post()
	h.CleanSeen()
	post()

	if len(bc.calls()) != 2 {
		t.Fatalf("got %d broadcasts, want 2 after CleanSeen", len(bc.calls()))
	}
}
