package server_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/rjantos/go-session-gate/server"
	"github.com/stretchr/testify/require"
)

func TestHTMLRendererKeepsSubdirectoryNames(t *testing.T) {
	fsys := fstest.MapFS{
		"login-password.html":               {Data: []byte(`<p>{{.error}}</p>`)},
		"http-errors/http-400-invalid.html": {Data: []byte(`<h1>Bad request</h1>`)},
		"notes.txt":                         {Data: []byte(`not a template`)},
	}
	renderer, err := server.NewHTMLRenderer(fsys)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = renderer.Render(rec, http.StatusOK, "login-password.html", map[string]any{"error": "invalid_login"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_login")
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	err = renderer.Render(rec, http.StatusBadRequest, "http-errors/http-400-invalid.html", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Bad request")
}

func TestHTMLRendererUnknownTemplate(t *testing.T) {
	renderer, err := server.NewHTMLRenderer(fstest.MapFS{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = renderer.Render(rec, http.StatusOK, "missing.html", nil)
	require.Error(t, err)
}
