package permission_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/permission"
	"github.com/env360/env360/internal/store"
	"github.com/env360/env360/internal/store/memstore"
)

func seedHierarchy(st *memstore.Store) (owner, grantee domain.User, proj domain.Project, env domain.Environment, svc domain.Service) {
	ctx := context.Background()

	owner, err := st.CreateUser(ctx, domain.User{Email: "owner@example.com", IsActive: true})
	Expect(err).NotTo(HaveOccurred())
	grantee, err = st.CreateUser(ctx, domain.User{Email: "grantee@example.com", IsActive: true})
	Expect(err).NotTo(HaveOccurred())
	proj, err = st.CreateProject(ctx, domain.Project{Name: "acme", OwnerID: owner.ID})
	Expect(err).NotTo(HaveOccurred())
	env, err = st.CreateEnvironment(ctx, domain.Environment{Name: "prod", Type: domain.EnvTypeProduction, ProjectID: proj.ID})
	Expect(err).NotTo(HaveOccurred())
	svc, err = st.CreateService(ctx, domain.Service{Name: "api", ProjectID: proj.ID, Type: domain.ServiceTypeMicroservice})
	Expect(err).NotTo(HaveOccurred())
	Expect(st.AttachServiceEnvironment(ctx, svc.ID, env.ID)).To(Succeed())
	return owner, grantee, proj, env, svc
}

var _ = Describe("Evaluator", func() {
	var (
		st                  *memstore.Store
		eval                *permission.Evaluator
		owner, grantee      domain.User
		proj                domain.Project
		env                 domain.Environment
		svc                 domain.Service
		ctx                 context.Context
	)

	BeforeEach(func() {
		st = memstore.New()
		owner, grantee, proj, env, svc = seedHierarchy(st)
		eval = permission.New(st, nil)
		ctx = context.Background()
	})

	It("grants the owner admin on every scope in their hierarchy", func() {
		for _, tc := range []struct {
			scope domain.PermissionScope
			id    string
		}{
			{domain.ScopeProject, proj.ID},
			{domain.ScopeEnvironment, env.ID},
			{domain.ScopeService, svc.ID},
		} {
			ok, err := eval.May(ctx, owner, domain.ActionAdmin, tc.scope, tc.id)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue(), "owner should have admin on %s %s", tc.scope, tc.id)
		}
	})

	It("denies a stranger with no grant", func() {
		ok, err := eval.May(ctx, grantee, domain.ActionRead, domain.ScopeProject, proj.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("flows a project-level read grant down to environments and services, but never upgrades to write", func() {
		_, err := st.GrantResourcePermission(ctx, domain.ResourcePermission{
			UserID:     grantee.ID,
			Scope:      domain.ScopeProject,
			ResourceID: proj.ID,
			Actions:    []domain.PermissionAction{domain.ActionRead},
			GrantedBy:  owner.ID,
		})
		Expect(err).NotTo(HaveOccurred())

		for _, tc := range []struct {
			name  string
			scope domain.PermissionScope
			id    string
		}{
			{"project", domain.ScopeProject, proj.ID},
			{"environment", domain.ScopeEnvironment, env.ID},
			{"service", domain.ScopeService, svc.ID},
		} {
			ok, err := eval.May(ctx, grantee, domain.ActionRead, tc.scope, tc.id)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue(), "expected inherited read grant at %s", tc.name)

			ok, err = eval.May(ctx, grantee, domain.ActionWrite, tc.scope, tc.id)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse(), "did not expect write at %s from a read-only grant", tc.name)
		}
	})

	It("does not leak an environment grant to a sibling service attached to a different environment", func() {
		other, err := st.CreateEnvironment(ctx, domain.Environment{Name: "staging", Type: domain.EnvTypeStaging, ProjectID: proj.ID})
		Expect(err).NotTo(HaveOccurred())
		sibling, err := st.CreateService(ctx, domain.Service{Name: "worker", ProjectID: proj.ID, Type: domain.ServiceTypeMicroservice})
		Expect(err).NotTo(HaveOccurred())
		Expect(st.AttachServiceEnvironment(ctx, sibling.ID, other.ID)).To(Succeed())

		_, err = st.GrantResourcePermission(ctx, domain.ResourcePermission{
			UserID:     grantee.ID,
			Scope:      domain.ScopeEnvironment,
			ResourceID: env.ID,
			Actions:    []domain.PermissionAction{domain.ActionRead},
			GrantedBy:  owner.ID,
		})
		Expect(err).NotTo(HaveOccurred())

		ok, err := eval.May(ctx, grantee, domain.ActionRead, domain.ScopeService, svc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue(), "svc is attached to env, so it should inherit the environment grant")

		ok, err = eval.May(ctx, grantee, domain.ActionRead, domain.ScopeService, sibling.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse(), "sibling is only attached to other, so it must not inherit env's grant")
	})

	It("restricts MayGrant to the owner and admins", func() {
		ok, err := eval.MayGrant(ctx, owner, domain.ScopeProject, proj.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = eval.MayGrant(ctx, grantee, domain.ScopeProject, proj.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		admin := domain.User{ID: "admin-1", Email: "admin@example.com", IsActive: true, IsAdmin: true}
		ok, err = eval.MayGrant(ctx, admin, domain.ScopeProject, proj.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("filters ListResourcePermissions to the caller's own rows unless the caller MayGrant", func() {
		_, err := st.GrantResourcePermission(ctx, domain.ResourcePermission{
			UserID:     grantee.ID,
			Scope:      domain.ScopeProject,
			ResourceID: proj.ID,
			Actions:    []domain.PermissionAction{domain.ActionRead},
			GrantedBy:  owner.ID,
		})
		Expect(err).NotTo(HaveOccurred())

		scope := domain.ScopeProject
		perms, err := eval.ListResourcePermissions(ctx, grantee, store.ResourcePermissionFilter{Scope: &scope, ResourceID: &proj.ID})
		Expect(err).NotTo(HaveOccurred())
		for _, p := range perms {
			Expect(p.UserID).To(Equal(grantee.ID), "expected only grantee's own rows")
		}

		perms, err = eval.ListResourcePermissions(ctx, owner, store.ResourcePermissionFilter{Scope: &scope, ResourceID: &proj.ID})
		Expect(err).NotTo(HaveOccurred())
		Expect(perms).NotTo(BeEmpty(), "owner can grant, so should see every row")
	})
})
