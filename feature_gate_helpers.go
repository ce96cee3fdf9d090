package impersonate

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

// FeatureImpersonation is the feature gate key checked before issuing sessions.
const FeatureImpersonation = "users.impersonate"

func normalizeFeatureGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}

	// an unreadable gate keeps impersonation closed
	return goerrors.Wrap(err, goerrors.CategoryAuthz, "Feature gate check failed").
		WithTextCode(TextCodeDisabled).
		WithCode(goerrors.CodeForbidden)
}

func requireImpersonationGate(ctx context.Context, featureGate gate.FeatureGate) error {
	if featureGate == nil {
		return nil
	}
	return guard.Require(ctx, featureGate, FeatureImpersonation,
		guard.WithDisabledError(ErrImpersonationDisabled),
		guard.WithErrorMapper(normalizeFeatureGateError),
	)
}
