// Copyright Contributors to the env360 project

// Package permission implements the hierarchical Permission Evaluator
//: may(user, action, scope, resourceID) with admin/ownership
// shortcuts and project -> environment -> service inheritance. The
// legacy UserPermission model is never consulted; only ResourcePermission
// rows back this evaluator.
package permission

import (
	"context"

	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
)

// Evaluator answers may/mayGrant queries against a Store.
type Evaluator struct {
	Store store.Store
	Settings *config.Settings
}

// New builds an Evaluator. settings may be nil, in which case
// super-admin short-circuiting is skipped (useful in tests that don't
// need config.Load()).
func New(st store.Store, settings *config.Settings) *Evaluator {
	return &Evaluator{Store: st, Settings: settings}
}

func (e *Evaluator) isSuperAdmin(u domain.User) bool {
	return e.Settings != nil && e.Settings.IsSuperAdmin(u.Email)
}

// May implements the algorithm, short-circuiting in order:
// admin/super-admin, ownership, direct grant, hierarchical inheritance.
func (e *Evaluator) May(ctx context.Context, user domain.User, action domain.PermissionAction, scope domain.PermissionScope, resourceID string) (bool, error) {
	if user.IsAdmin || e.isSuperAdmin(user) {
		return true, nil
	}

	ownerID, err := e.owningProjectOwner(ctx, scope, resourceID)
	if err != nil {
		return false, err
	}
	if ownerID != "" && ownerID == user.ID {
		return true, nil
	}

	if granted, err := e.hasDirectGrant(ctx, user.ID, scope, resourceID, action); err != nil {
		return false, err
	} else if granted {
		return true, nil
	}

	return e.checkInheritance(ctx, user.ID, scope, resourceID, action)
}

// MayGrant implements: true iff admin/super-admin or the
// owning Project's owner. It does not imply the "admin" action itself.
func (e *Evaluator) MayGrant(ctx context.Context, user domain.User, scope domain.PermissionScope, resourceID string) (bool, error) {
	if user.IsAdmin || e.isSuperAdmin(user) {
		return true, nil
	}
	ownerID, err := e.owningProjectOwner(ctx, scope, resourceID)
	if err != nil {
		return false, err
	}
	return ownerID != "" && ownerID == user.ID, nil
}

// owningProjectOwner walks scope upward to the owning Project and
// returns its owner id, by id lookups only -- never resident pointers,
// per the cyclic-object-graph design note.
func (e *Evaluator) owningProjectOwner(ctx context.Context, scope domain.PermissionScope, resourceID string) (string, error) {
	projectID, err := e.projectIDFor(ctx, scope, resourceID)
	if err != nil {
		return "", err
	}
	if projectID == "" {
		return "", nil
	}
	proj, err := e.Store.ResolveProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	return proj.OwnerID, nil
}

func (e *Evaluator) projectIDFor(ctx context.Context, scope domain.PermissionScope, resourceID string) (string, error) {
	switch scope {
	case domain.ScopeProject:
		return resourceID, nil
	case domain.ScopeEnvironment:
		env, err := e.Store.ResolveEnvironment(ctx, resourceID)
		if err != nil {
			return "", err
		}
		return env.ProjectID, nil
	case domain.ScopeService:
		svc, err := e.Store.ResolveService(ctx, resourceID)
		if err != nil {
			return "", err
		}
		return svc.ProjectID, nil
	}
	return "", nil
}

func (e *Evaluator) hasDirectGrant(ctx context.Context, userID string, scope domain.PermissionScope, resourceID string, action domain.PermissionAction) (bool, error) {
	perms, err := e.Store.ListResourcePermissions(ctx, store.ResourcePermissionFilter{
		UserID: &userID,
		Scope: &scope,
		ResourceID: &resourceID,
	})
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.HasAction(action) {
			return true, nil
		}
	}
	return false, nil
}

// checkInheritance implements step 4: scope=service checks the
// environment grant (if the service has one) then the project grant;
// scope=environment checks the project grant.
func (e *Evaluator) checkInheritance(ctx context.Context, userID string, scope domain.PermissionScope, resourceID string, action domain.PermissionAction) (bool, error) {
	switch scope {
	case domain.ScopeService:
		svc, err := e.Store.ResolveService(ctx, resourceID)
		if err != nil {
			return false, err
		}
		envs, err := serviceEnvironmentIDs(ctx, e.Store, svc.ID)
		if err != nil {
			return false, err
		}
		for _, envID := range envs {
			if granted, err := e.hasDirectGrant(ctx, userID, domain.ScopeEnvironment, envID, action); err != nil {
				return false, err
			} else if granted {
				return true, nil
			}
		}
		return e.hasDirectGrant(ctx, userID, domain.ScopeProject, svc.ProjectID, action)

	case domain.ScopeEnvironment:
		env, err := e.Store.ResolveEnvironment(ctx, resourceID)
		if err != nil {
			return false, err
		}
		return e.hasDirectGrant(ctx, userID, domain.ScopeProject, env.ProjectID, action)
	}
	return false, nil
}

// serviceEnvironmentIDs is a narrow helper over the Store's
// service<->environment join, returning only the environments the
// service is actually attached to (via ListServiceEnvironments), never
// every environment in the service's project.
func serviceEnvironmentIDs(ctx context.Context, st store.Store, serviceID string) ([]string, error) {
	envs, err := st.ListServiceEnvironments(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(envs))
	for _, e := range envs {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// ListResourcePermissions implements the listing policy:
// when the caller cannot MayGrant on the target, results are filtered to
// the caller's own rows.
func (e *Evaluator) ListResourcePermissions(ctx context.Context, caller domain.User, filter store.ResourcePermissionFilter) ([]domain.ResourcePermission, error) {
	canManage := true
	if filter.Scope != nil && filter.ResourceID != nil {
		var err error
		canManage, err = e.MayGrant(ctx, caller, *filter.Scope, *filter.ResourceID)
		if err != nil {
			return nil, err
		}
	}
	if !canManage {
		filter.UserID = &caller.ID
	}
	return e.Store.ListResourcePermissions(ctx, filter)
}
