package lib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	captcha "github.com/habuha/captcha"
	"github.com/habuha/captcha/lib/challenge"
)

func spawnHTTP(t *testing.T, cfg *Config) (*Server, *httptest.Server) {
	t.Helper()

	s := spawnServer(t, cfg)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func issueHTTP(t *testing.T, ts *httptest.Server, variant string) *IssueResult {
	t.Helper()

	resp, err := http.Post(ts.URL+"/api/challenge?variant="+variant, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("issue returned %d: %s", resp.StatusCode, body)
	}

	var result IssueResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	return &result
}

func verifyHTTP(t *testing.T, ts *httptest.Server, id string, sub challenge.Submission) (*VerifyResult, *http.Response) {
	t.Helper()

	body, err := json.Marshal(verifyRequest{ID: id, Submission: sub})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+"/api/verify", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("verify returned %d: %s", resp.StatusCode, raw)
	}

	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	return &result, resp
}

func TestHTTPIssueVerify(t *testing.T) {
	s, ts := spawnHTTP(t, nil)

	issued := issueHTTP(t, ts, "arithmetic")
	answer := s.peek(t, issued.ID).Arithmetic.ExpectedAnswer

	result, resp := verifyHTTP(t, ts, issued.ID, challenge.Submission{Answer: answer})
	if result.Status != StatusSuccess {
		t.Fatalf("wanted success, got: %s (%s)", result.Status, result.Reason)
	}

	var passCookie *http.Cookie
	for _, ckie := range resp.Cookies() {
		if ckie.Name == captcha.PassCookieName {
			passCookie = ckie
		}
	}
	if passCookie == nil || passCookie.Value == "" {
		t.Error("success response did not set the pass cookie")
	}

	result, _ = verifyHTTP(t, ts, issued.ID, challenge.Submission{Answer: answer})
	if result.Status != StatusNotFound {
		t.Fatalf("wanted not_found on replay, got: %s", result.Status)
	}
}

func TestHTTPIssueRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Admission.Limit = 1

	_, ts := spawnHTTP(t, cfg)

	issueHTTP(t, ts, "arithmetic")

	resp, err := http.Post(ts.URL+"/api/challenge?variant=arithmetic", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("wanted 429, got: %d", resp.StatusCode)
	}
}

func TestHTTPUnknownVariant(t *testing.T) {
	_, ts := spawnHTTP(t, nil)

	resp, err := http.Post(ts.URL+"/api/challenge?variant=telepathy", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wanted 400, got: %d", resp.StatusCode)
	}
}

func TestHTTPImage(t *testing.T) {
	_, ts := spawnHTTP(t, nil)

	issued := issueHTTP(t, ts, "slidepuzzle")

	for _, kind := range issued.Render.Assets {
		resp, err := http.Get(fmt.Sprintf("%s/api/image/%s?id=%s", ts.URL, kind, issued.ID))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("image %s returned %d", kind, resp.StatusCode)
		}

		// the fake renderer declares webp; the handler must not assume png
		if got := resp.Header.Get("Content-Type"); got != "image/webp" {
			t.Errorf("image %s served with content type %q, wanted the renderer's", kind, got)
		}
	}

	resp, err := http.Get(ts.URL + "/api/image/background?id=no-such-challenge")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("wanted 404 for an unknown id, got: %d", resp.StatusCode)
	}
}

func TestHTTPRendererDown(t *testing.T) {
	s, ts := spawnHTTP(t, nil)
	s.renderer = fakeRenderer{fail: true}

	resp, err := http.Post(ts.URL+"/api/challenge?variant=arithmetic", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("wanted 500, got: %d", resp.StatusCode)
	}
}

func TestHTTPCheckClick(t *testing.T) {
	s, ts := spawnHTTP(t, nil)

	issued := issueHTTP(t, ts, "glyphclick")
	region := s.peek(t, issued.ID).GlyphClick.HitRegions[1]

	body, err := json.Marshal(checkClickRequest{ID: issued.ID, X: region.CenterX, Y: region.CenterY})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+"/api/check-click", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got checkClickResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}

	if !got.Hit || got.Glyph != region.Glyph {
		t.Fatalf("wanted a hit on %q, got: %+v", region.Glyph, got)
	}
}
