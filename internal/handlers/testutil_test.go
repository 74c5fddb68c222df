package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/auth"
)

// tokenVerifier maps bearer tokens to Firebase tokens. Unknown tokens are invalid.
type tokenVerifier map[string]*firebaseauth.Token

func (v tokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := v[idToken]; ok {
		return token, nil
	}
	return nil, auth.ErrTokenInvalid
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{
		"buyer1":  {UID: "buyer1", Claims: map[string]any{}},
		"buyer2":  {UID: "buyer2", Claims: map[string]any{}},
		"seller1": {UID: "seller1", Claims: map[string]any{"role": []any{"seller"}}},
		"seller2": {UID: "seller2", Claims: map[string]any{"role": []any{"seller"}}},
		"ops":     {UID: "ops", Claims: map[string]any{"admin": true}},
	})
}

func newAuthedRequest(method, target, token, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serveRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func doRequest(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	return serveRequest(h, newAuthedRequest(method, target, token, body))
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	decodeJSON(t, rr, &body)
	return body
}
