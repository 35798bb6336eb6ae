package webui

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesIndex(t *testing.T) {
	t.Parallel()

	h := Handler()
	for _, path := range []string{"/", "/index.html", "/chat/123"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		res := rec.Result()
		body, _ := io.ReadAll(res.Body)
		switch {
		case path == "/index.html":
			// FileServer redirects explicit index.html requests to the directory.
			if res.StatusCode != http.StatusMovedPermanently {
				t.Fatalf("%s: status %d", path, res.StatusCode)
			}
		case res.StatusCode != http.StatusOK:
			t.Fatalf("%s: status %d", path, res.StatusCode)
		case !strings.Contains(string(body), "/v1/sessions"):
			t.Fatalf("%s: body does not look like the chat client", path)
		}
	}
}
