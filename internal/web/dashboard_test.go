package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPages(t *testing.T) {
	cases := map[string]struct {
		handler http.HandlerFunc
		marker  string
	}{
		"editor":    {ServeEditor, `id="feedback"`},
		"dashboard": {ServeDashboard, "/ws/monitor"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tc.marker)
		})
	}
}
