package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keyforge/internal/errors"
	api "keyforge/pkg/contracts/api/v1"
)

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/save_user", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestValidator_Decode(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantCode  string
		wantField string
	}{
		{name: "valid", body: `{"hwid":"0A1B-2C3D","cookies":"c=1"}`},
		{name: "missing hwid", body: `{"cookies":"c=1"}`, wantErr: true, wantCode: "VALIDATION_FAILED", wantField: "hwid"},
		{name: "non hex hwid", body: `{"hwid":"zzzz-zzzz"}`, wantErr: true, wantCode: "VALIDATION_FAILED", wantField: "hwid"},
		{name: "short hwid", body: `{"hwid":"0A1B"}`, wantErr: true, wantCode: "VALIDATION_FAILED", wantField: "hwid"},
		{name: "broken json", body: `{"hwid":`, wantErr: true, wantCode: "INVALID_REQUEST"},
		{name: "empty body fails required", body: ``, wantErr: true, wantCode: "VALIDATION_FAILED", wantField: "hwid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req api.SaveUserRequest
			err := v.Decode(httptest.NewRecorder(), postJSON(tt.body), &req)

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "0A1B-2C3D", req.HWID)
				return
			}

			require.Error(t, err)
			apiErr, ok := err.(*apperrors.APIError)
			require.True(t, ok, "expected *APIError, got %T", err)
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)

			if tt.wantField != "" {
				fields, ok := apiErr.Details.([]apperrors.FieldError)
				require.True(t, ok)
				require.Len(t, fields, 1)
				assert.Equal(t, tt.wantField, fields[0].Field)
			}
		})
	}
}

func TestValidator_OptionalBody(t *testing.T) {
	v := NewValidator()

	var req api.CleanOldKeysRequest
	require.NoError(t, v.Decode(httptest.NewRecorder(), postJSON(""), &req))
	assert.Nil(t, req.Days)

	require.NoError(t, v.Decode(httptest.NewRecorder(), postJSON(`{"days":0}`), &req))
	require.NotNil(t, req.Days)
	assert.Equal(t, 0, *req.Days)

	err := v.Decode(httptest.NewRecorder(), postJSON(`{"days":-2}`), &api.CleanOldKeysRequest{})
	assert.Equal(t, http.StatusBadRequest, apperrors.StatusFor(err))
}

func TestValidator_BodyTooLarge(t *testing.T) {
	v := NewValidator()
	body := `{"hwid":"` + strings.Repeat("A", DefaultMaxBodySize) + `"}`

	err := v.DecodeJSON(httptest.NewRecorder(), postJSON(body), &api.SaveUserRequest{})
	assert.Equal(t, http.StatusRequestEntityTooLarge, apperrors.StatusFor(err))
}

func TestRegisterCustomValidations(t *testing.T) {
	assert.NotPanics(t, func() { NewValidator() })

	// Without registration the tag is unknown to validator
	assert.Panics(t, func() { _ = validator.New().Var("0A1B-2C3D", "hwid") })

	v := validator.New()
	require.NoError(t, registerCustomValidations(v))
	assert.NoError(t, v.Var("0A1B-2C3D", "hwid"))
	assert.Error(t, v.Var("not-hex", "hwid"))
}
