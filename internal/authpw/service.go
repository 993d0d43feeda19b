// Package authpw provides email/password authentication and
// organization onboarding.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	CreateOrganization(ctx context.Context, org store.Organization) error
	GetOrganizationByInviteCode(ctx context.Context, code string) (store.Organization, error)
}

// NewService creates a new auth service
func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

// SignUpRequest contains sign-up parameters. Exactly one of
// OrganizationName (found a new organization) or InviteCode (join an
// existing one) must be set: a user belongs to exactly one organization
// from the moment the profile exists.
type SignUpRequest struct {
	Email            string
	Password         string
	DisplayName      string
	OrganizationName string
	InviteCode       string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	User         store.User
	Organization store.Organization
}

// SignUp creates a new user account bound to an organization.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	req.InviteCode = strings.TrimSpace(req.InviteCode)

	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return nil, errors.New("email, password, and display name are required")
	}
	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	if (req.OrganizationName == "") == (req.InviteCode == "") {
		return nil, errors.New("provide either an organization name or an invite code")
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, errors.New("email already registered")
	}

	var org store.Organization
	if req.InviteCode != "" {
		existing, err := s.store.GetOrganizationByInviteCode(ctx, req.InviteCode)
		if err != nil {
			return nil, errors.New("invalid invite code")
		}
		org = existing
	} else {
		org = store.Organization{
			ID:         util.NewID("org"),
			Name:       req.OrganizationName,
			InviteCode: util.NewToken(),
		}
		if err := s.store.CreateOrganization(ctx, org); err != nil {
			return nil, fmt.Errorf("create organization: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		OrgID:        org.ID,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &SignUpResponse{User: user, Organization: org}, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	return user, nil
}
