package orchestrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/meshkit/config"
	"github.com/hupe1980/meshkit/internal/testutil"
	"github.com/hupe1980/meshkit/mesh"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"nil", nil, KindSuccess, 0},
		{"missing credential", fmt.Errorf("%w: MESH_API_KEY", config.ErrMissingCredential), KindMissingCredential, 0},
		{"authentication", &mesh.AuthenticationError{StatusCode: 401, Message: "no"}, KindAuthentication, 401},
		{"wrapped api", fmt.Errorf("list: %w", &mesh.APIError{StatusCode: 503, Message: "down"}), KindAPI, 503},
		{"api without status", &mesh.APIError{Message: "odd"}, KindAPI, 0},
		{"sdk", &mesh.SDKError{Op: "list", Err: errors.New("eof")}, KindSDK, 0},
		{"closed client", fmt.Errorf("x: %w", &mesh.SDKError{Op: "call", Err: mesh.ErrClientClosed}), KindSDK, 0},
		{"unexpected", errors.New("boom"), KindUnexpected, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Classify(tt.err)
			assert.Equal(t, tt.kind, o.Kind)
			assert.Equal(t, tt.status, o.StatusCode)
		})
	}
}

func TestOutcome_ExitCodeIsTotal(t *testing.T) {
	for k := KindSuccess; k <= KindUnexpected; k++ {
		want := 1
		if k == KindSuccess {
			want = 0
		}
		assert.Equal(t, want, Outcome{Kind: k}.ExitCode(), k.String())
	}
}

func TestOutcome_ReportIsDistinctPerKind(t *testing.T) {
	errs := map[Kind]error{
		KindMissingCredential: config.ErrMissingCredential,
		KindAuthentication:    &mesh.AuthenticationError{StatusCode: 403, Message: "forbidden"},
		KindAPI:               &mesh.APIError{StatusCode: 500, Message: "oops"},
		KindSDK:               &mesh.SDKError{Op: "x", Err: errors.New("y")},
		KindUnexpected:        errors.New("z"),
	}

	seen := map[string]Kind{}
	for k, err := range errs {
		logger := &testutil.RecordingLogger{}
		Classify(err).Report(logger)

		msgs := logger.Messages("ERROR")
		if assert.NotEmpty(t, msgs, k.String()) {
			_, dup := seen[msgs[0]]
			assert.False(t, dup, "duplicate message for %s", k)
			seen[msgs[0]] = k
		}
	}

	logger := &testutil.RecordingLogger{}
	Classify(nil).Report(logger)
	assert.Empty(t, logger.Entries())
}
