package orchestrator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/meshkit/config"
	"github.com/hupe1980/meshkit/logging"
	"github.com/hupe1980/meshkit/mesh"
)

// Kind tags how a run ended.
type Kind int

const (
	KindSuccess Kind = iota
	KindMissingCredential
	KindAuthentication
	KindAPI
	KindSDK
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindMissingCredential:
		return "missing_credential"
	case KindAuthentication:
		return "authentication"
	case KindAPI:
		return "api"
	case KindSDK:
		return "sdk"
	default:
		return "unexpected"
	}
}

// Outcome is the classified result of a run.
type Outcome struct {
	Kind Kind
	// StatusCode is set for KindAPI when the gateway reported one.
	StatusCode int
	Err        error
}

// Classify maps err onto an Outcome, most specific kind first. A nil error
// is KindSuccess.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: KindSuccess}
	}

	if errors.Is(err, config.ErrMissingCredential) {
		return Outcome{Kind: KindMissingCredential, Err: err}
	}

	var authErr *mesh.AuthenticationError
	if errors.As(err, &authErr) {
		return Outcome{Kind: KindAuthentication, StatusCode: authErr.StatusCode, Err: err}
	}

	var apiErr *mesh.APIError
	if errors.As(err, &apiErr) {
		return Outcome{Kind: KindAPI, StatusCode: apiErr.StatusCode, Err: err}
	}

	if errors.Is(err, mesh.ErrSDK) {
		return Outcome{Kind: KindSDK, Err: err}
	}

	return Outcome{Kind: KindUnexpected, Err: err}
}

// ExitCode is 0 for success and 1 for every failure kind.
func (o Outcome) ExitCode() int {
	if o.Kind == KindSuccess {
		return 0
	}
	return 1
}

// Report logs the outcome with a message distinct per kind.
func (o Outcome) Report(logger logging.Logger) {
	switch o.Kind {
	case KindSuccess:
	case KindMissingCredential:
		logger.Error("Please set " + config.EnvMeshAPIKey + " environment variable")
	case KindAuthentication:
		logger.Error(fmt.Sprintf("🔐 Authentication failed: %v", o.Err))
	case KindAPI:
		logger.Error(fmt.Sprintf("🚨 API error: %v", o.Err))
		if o.StatusCode != 0 {
			logger.Error(fmt.Sprintf("   Status code: %d", o.StatusCode))
		}
	case KindSDK:
		logger.Error(fmt.Sprintf("⚠️  SDK error: %v", o.Err))
	default:
		logger.Error(fmt.Sprintf("💥 Unexpected error: %T: %v", o.Err, o.Err))
	}
}
