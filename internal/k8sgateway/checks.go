// Copyright Contributors to the env360 project

package k8sgateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	authenticationv1 "k8s.io/api/authentication/v1"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/crypt"
	"github.com/env360/env360/internal/domain"
)

// readyzTimeout bounds the unauthenticated GET performed by CheckReadyz
//.
const readyzTimeout = 3 * time.Second

// CheckReadyz implements checkReadyz(): an unauthenticated GET
// against apiURL+"/readyz", succeeding iff the response is 200 and its
// body contains "ok".
func CheckReadyz(ctx context.Context, apiURL string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, readyzTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/readyz", nil)
	if err != nil {
		return false, apperr.Wrap(apperr.KindFatal, "k8sgateway: building readyz request", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, apperr.Wrap(apperr.KindUnavailable, "k8sgateway: readyz request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false, apperr.Wrap(apperr.KindUnavailable, "k8sgateway: reading readyz body", err)
	}
	return strings.Contains(string(body), "ok"), nil
}

// ConnectionCheck is the result of CheckConnection.
type ConnectionCheck struct {
	OK bool
	Message string
}

// CheckConnection implements checkConnection(): an
// authenticated call using decrypted creds against a simple endpoint
// (here, a SelfSubjectReview against the authentication API group,
// which every one of the four auth modes can reach without needing
// extra RBAC beyond "authenticate").
func (g *Gateway) CheckConnection(ctx context.Context, cluster domain.KubernetesCluster) (ConnectionCheck, error) {
	cl, cleanup, err := g.Client(cluster)
	defer cleanup()
	if err != nil {
		if crypt.IsDecryptError(err) {
			return ConnectionCheck{OK: false, Message: err.Error()}, err
		}
		return ConnectionCheck{OK: false, Message: err.Error()}, nil
	}

	review := &authenticationv1.SelfSubjectReview{}
	if err := cl.Create(ctx, review); err != nil {
		return ConnectionCheck{OK: false, Message: err.Error()}, nil
	}
	return ConnectionCheck{OK: true, Message: "connected"}, nil
}
