package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveprofile/driveprofile/internal/api/middleware"
	"github.com/driveprofile/driveprofile/internal/api/models"
)

const testAdminToken = "s3cret-admin-token"

func adminHandler(token string) (http.Handler, *bool) {
	called := false
	h := middleware.AdminToken(token)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	return h, &called
}

func TestAdminToken_Accepts(t *testing.T) {
	handler, called := adminHandler(testAdminToken)

	for _, header := range []string{"Bearer " + testAdminToken, "bearer " + testAdminToken} {
		*called = false
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/flags", http.NoBody)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, header)
		assert.True(t, *called, header)
	}
}

func TestAdminToken_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		header     string
		wantDetail string
	}{
		{name: "missing header", token: testAdminToken, header: "", wantDetail: "missing authorization header"},
		{name: "basic auth", token: testAdminToken, header: "Basic dXNlcjpwYXNz", wantDetail: "invalid authorization header format"},
		{name: "just bearer", token: testAdminToken, header: "Bearer", wantDetail: "invalid authorization header format"},
		{name: "empty bearer", token: testAdminToken, header: "Bearer ", wantDetail: "missing bearer token"},
		{name: "wrong token", token: testAdminToken, header: "Bearer nope", wantDetail: "invalid admin token"},
		{name: "prefix of token", token: testAdminToken, header: "Bearer s3cret", wantDetail: "invalid admin token"},
		{name: "unconfigured token", token: "", header: "Bearer anything", wantDetail: "invalid admin token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := adminHandler(tt.token)

			req := httptest.NewRequest(http.MethodPut, "/v1/admin/flags", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.False(t, *called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

			var problem models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, models.ProblemTypeUnauthorized, problem.Type)
			assert.Equal(t, tt.wantDetail, problem.Detail)
			assert.Equal(t, "/v1/admin/flags", problem.Instance)
		})
	}
}
