// Package authz decides every read and write of case-scoped resources.
//
// The rule graph is kept acyclic by construction. SameOrganization and
// IsCaseMember are trusted predicates: they read raw profile, case, and
// membership rows through the narrow Directory and CaseReader
// interfaces, with no access rule applied to those reads. Every other
// rule composes the two trusted predicates plus direct identity
// comparisons; no rule re-queries a guarded table through the rule
// path, so no rule can recurse into itself.
//
// Trusted predicates answer allow/deny only. They are never a channel
// for returning raw rows to a caller.
package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrDenied is the uniform outward signal for both "does not exist" and
// "exists but forbidden"; callers must not be able to tell the two
// apart.
var ErrDenied = errors.New("not found or access denied")

// ErrTargetNotInOrganization rejects a membership grant to a user from
// another organization. Unlike ErrDenied it carries no confidentiality
// risk, so it surfaces as a specific validation failure.
var ErrTargetNotInOrganization = errors.New("target user belongs to a different organization")

// Directory is the tenant directory: user id to organization id. The
// lookup reads the profile row directly so it is safe to call from
// inside any predicate.
type Directory interface {
	OrganizationOf(ctx context.Context, userID string) (string, error)
}

// CaseReader exposes the raw reads the trusted predicates need. These
// bypass the per-row rules for the cases and case_memberships tables.
type CaseReader interface {
	CaseAccessInfo(ctx context.Context, caseID string) (creatorID, orgID string, err error)
	HasMembership(ctx context.Context, caseID, userID string) (bool, error)
}

type Engine struct {
	dir   Directory
	cases CaseReader
}

func NewEngine(dir Directory, cases CaseReader) *Engine {
	return &Engine{dir: dir, cases: cases}
}

// notFound collapses missing rows into a plain deny. Any other error is
// infrastructure and propagates.
func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// SameOrganization is a trusted predicate: true iff the case's
// organization equals the caller's.
func (e *Engine) SameOrganization(ctx context.Context, caseID, userID string) (bool, error) {
	_, caseOrg, err := e.cases.CaseAccessInfo(ctx, caseID)
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("case access info: %w", err)
	}
	userOrg, err := e.dir.OrganizationOf(ctx, userID)
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("organization of: %w", err)
	}
	return caseOrg == userOrg, nil
}

// IsCaseMember is a trusted predicate: true iff the caller created the
// case or holds a membership row for it.
func (e *Engine) IsCaseMember(ctx context.Context, caseID, userID string) (bool, error) {
	creatorID, _, err := e.cases.CaseAccessInfo(ctx, caseID)
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("case access info: %w", err)
	}
	if creatorID == userID {
		return true, nil
	}
	member, err := e.cases.HasMembership(ctx, caseID, userID)
	if err != nil {
		return false, fmt.Errorf("has membership: %w", err)
	}
	return member, nil
}

// CaseAccess gates reads and writes of the case itself: creator or
// member.
func (e *Engine) CaseAccess(ctx context.Context, caseID, userID string) error {
	ok, err := e.IsCaseMember(ctx, caseID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDenied
	}
	return nil
}

// MembershipRead gates listing membership rows: any organization-mate
// may see who is on a case.
func (e *Engine) MembershipRead(ctx context.Context, caseID, userID string) error {
	ok, err := e.SameOrganization(ctx, caseID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDenied
	}
	return nil
}

// MembershipChange gates adding or removing a membership row: the
// caller must be creator or member, and the target user must belong to
// the case's organization.
func (e *Engine) MembershipChange(ctx context.Context, caseID, callerID, targetUserID string) error {
	ok, err := e.IsCaseMember(ctx, caseID, callerID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDenied
	}
	ok, err = e.SameOrganization(ctx, caseID, targetUserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTargetNotInOrganization
	}
	return nil
}

// TemplateAccess gates organization-wide templates: any member of the
// owning organization may read, edit, or delete.
func (e *Engine) TemplateAccess(ctx context.Context, templateOrgID, userID string) error {
	userOrg, err := e.dir.OrganizationOf(ctx, userID)
	if notFound(err) {
		return ErrDenied
	}
	if err != nil {
		return fmt.Errorf("organization of: %w", err)
	}
	if userOrg != templateOrgID {
		return ErrDenied
	}
	return nil
}

// SnapshotAccess gates per-case template snapshots: same organization
// and creator-or-member.
func (e *Engine) SnapshotAccess(ctx context.Context, caseID, userID string) error {
	sameOrg, err := e.SameOrganization(ctx, caseID, userID)
	if err != nil {
		return err
	}
	if !sameOrg {
		return ErrDenied
	}
	return e.CaseAccess(ctx, caseID, userID)
}

// DraftAccess gates drafts: shared across all case members, unlike
// messages.
func (e *Engine) DraftAccess(ctx context.Context, caseID, userID string) error {
	return e.CaseAccess(ctx, caseID, userID)
}

// MessageAccess gates chat messages: the owner only, and the owner must
// still be a member of the case.
func (e *Engine) MessageAccess(ctx context.Context, caseID, ownerID, callerID string) error {
	if ownerID != callerID {
		return ErrDenied
	}
	return e.CaseAccess(ctx, caseID, callerID)
}
