package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestRequireOperator(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	cases := []struct {
		name       string
		configured string
		given      string
		want       int
	}{
		{name: "matching key", configured: "s3cret", given: "s3cret", want: http.StatusOK},
		{name: "wrong key", configured: "s3cret", given: "guess", want: http.StatusForbidden},
		{name: "missing key", configured: "s3cret", want: http.StatusForbidden},
		{name: "unconfigured", configured: "", given: "", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/assets/GOLD/reconcile", nil)
			if tc.given != "" {
				req.Header.Set(OperatorKeyHeader, tc.given)
			}
			rr := httptest.NewRecorder()
			RequireOperator(tc.configured)(ok).ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestRequireOperatorLogsRejection(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	req := httptest.NewRequest(http.MethodPost, "/v1/incidents/1/complete", nil)
	req.Header.Set(OperatorKeyHeader, "guess")
	RequireOperator("s3cret")(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), req)

	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, "/v1/incidents/1/complete", entry.Data["path"])
		assert.NotContains(t, entry.Message, "guess")
	}
}
