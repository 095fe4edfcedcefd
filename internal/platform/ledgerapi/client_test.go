package ledgerapi

import (
	"errors"
	"net/http"
	"testing"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

func TestCheckStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusPaymentRequired, "", domain.ErrInsufficientFunds},
		{http.StatusConflict, `{"code":"insufficient_funds"}`, domain.ErrInsufficientFunds},
		{http.StatusNotFound, "", domain.ErrNotFound},
		{http.StatusUnauthorized, "", domain.ErrUnauthorized},
		{http.StatusForbidden, "", domain.ErrUnauthorized},
		{http.StatusTooManyRequests, "", domain.ErrRateLimited},
	}
	for _, tc := range cases {
		if err := CheckStatus(tc.status, []byte(tc.body)); !errors.Is(err, tc.want) {
			t.Errorf("CheckStatus(%d, %q) = %v, want %v", tc.status, tc.body, err, tc.want)
		}
	}
	if err := CheckStatus(http.StatusOK, nil); err != nil {
		t.Errorf("200 error = %v", err)
	}
	err := CheckStatus(http.StatusBadGateway, []byte(`{"error":"upstream down"}`))
	if err == nil || err.Error() != "HTTP 502: upstream down" {
		t.Errorf("502 error = %v", err)
	}
}
