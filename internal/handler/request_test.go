package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/parley/internal/domain"
)

type lockBody struct {
	Reason string `json:"reason" validate:"max=10"`
	Plan   string `json:"planKey" validate:"required"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCode   string
		wantFields map[string]string
	}{
		{name: "valid", body: `{"reason":"hold","planKey":"pro"}`},
		{name: "malformed", body: `{"reason":`, wantCode: domain.EINVALID},
		{name: "unknown field", body: `{"planKey":"pro","extra":1}`, wantCode: domain.EINVALID},
		{
			name:       "empty body fails required",
			body:       ``,
			wantFields: map[string]string{"planKey": "is required"},
		},
		{
			name:       "too long",
			body:       `{"reason":"far too long a reason","planKey":"pro"}`,
			wantFields: map[string]string{"reason": "must be at most 10"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/billing/lock", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			var dst lockBody
			err := DecodeJSON(rec, req, "test.decode", &dst)

			switch {
			case tt.wantFields != nil:
				assert.Equal(t, tt.wantFields, domain.GetValidationFields(err))
			case tt.wantCode != "":
				assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, "pro", dst.Plan)
			}
		})
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	body := `{"reason":"` + strings.Repeat("a", MaxRequestBody) + `","planKey":"pro"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/billing/lock", strings.NewReader(body))
	rec := httptest.NewRecorder()

	var dst lockBody
	err := DecodeJSON(rec, req, "test.decode", &dst)
	assert.Equal(t, "Request body too large", domain.ErrorMessage(err))
}
