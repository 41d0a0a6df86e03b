package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/juju/errors"
)

func TestHTTPStatusByKind(t *testing.T) {
	verr := &ValidationError{}
	verr.Add("items", "at least one item is required")

	cases := []struct {
		err  error
		want int
	}{
		{verr, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", verr), http.StatusBadRequest},
		{errors.NotFoundf("restaurant %q", "pizza"), http.StatusNotFound},
		{errors.Forbiddenf("signature mismatch"), http.StatusForbidden},
		{errors.Unauthorizedf("missing token"), http.StatusUnauthorized},
		{errors.AlreadyExistsf("order number"), http.StatusConflict},
		{Conflictf("order is %s", "COMPLETED"), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestValidationErrorOrNil(t *testing.T) {
	var verr ValidationError
	if verr.OrNil() != nil {
		t.Fatal("empty validation error should be nil")
	}
	verr.Add("quantity", "must be positive, got %d", -1)
	err := verr.OrNil()
	if err == nil {
		t.Fatal("expected error")
	}
	issues := Issues(fmt.Errorf("create order: %w", err))
	if len(issues) != 1 || issues[0].Field != "quantity" {
		t.Fatalf("unexpected issues %+v", issues)
	}
	if !errors.Is(err, errors.NotValid) {
		t.Fatal("validation error must be NotValid")
	}
}
