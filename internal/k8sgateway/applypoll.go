// Copyright Contributors to the env360 project

package k8sgateway

import (
	"context"
	"time"

	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/manifest"
)

// ApplyAndPoll applies a single manifest and blocks until PollReady
// reports it ready. The apply uses its own client, released before
// polling starts; PollReady builds a second one. obj == nil is a no-op, matching the deploy
// workflow's "skip if absent" rule for the namespace/service-account
// steps.
func (g *Gateway) ApplyAndPoll(ctx context.Context, cluster domain.KubernetesCluster, obj manifest.UnstructuredObject, timeout, interval time.Duration) (*ApplyResult, error) {
	if obj == nil {
		return nil, nil
	}

	u, err := toUnstructured(obj)
	if err != nil {
		return nil, err
	}

	cl, cleanup, err := g.Client(cluster)
	if err != nil {
		cleanup()
		return nil, err
	}
	applyObj := u.DeepCopy()
	outcome, err := applyOne(ctx, cl, applyObj)
	cleanup()
	if err != nil {
		return nil, err
	}
	result := &ApplyResult{Kind: applyObj.GetKind(), Name: applyObj.GetName(), Outcome: outcome}

	if err := g.PollReady(ctx, cluster, applyObj, timeout, interval); err != nil {
		return result, err
	}
	return result, nil
}
