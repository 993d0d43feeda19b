package authpw

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"casedesk/api/internal/store"
)

type fakeUserStore struct {
	usersByEmail map[string]store.User
	orgsByInvite map[string]store.Organization
	createdOrgs  []store.Organization
	createdUsers []store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: map[string]store.User{},
		orgsByInvite: map[string]store.Organization{},
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.usersByEmail[user.Email] = user
	f.createdUsers = append(f.createdUsers, user)
	return nil
}

func (f *fakeUserStore) CreateOrganization(_ context.Context, org store.Organization) error {
	f.orgsByInvite[org.InviteCode] = org
	f.createdOrgs = append(f.createdOrgs, org)
	return nil
}

func (f *fakeUserStore) GetOrganizationByInviteCode(_ context.Context, code string) (store.Organization, error) {
	org, ok := f.orgsByInvite[code]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func TestSignUpFoundsOrganization(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:            "Avery@Example.com",
		Password:         "correct-horse",
		DisplayName:      "Avery",
		OrganizationName: "Acme Legal",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if resp.Organization.Name != "Acme Legal" || resp.Organization.InviteCode == "" {
		t.Fatalf("unexpected organization: %+v", resp.Organization)
	}
	if resp.User.OrgID != resp.Organization.ID {
		t.Fatal("user must belong to the founded organization")
	}
	if resp.User.Email != "avery@example.com" {
		t.Fatalf("email not normalized: %q", resp.User.Email)
	}
	if resp.User.PasswordHash == "" || resp.User.PasswordHash == "correct-horse" {
		t.Fatal("password must be stored hashed")
	}
}

func TestSignUpJoinsByInviteCode(t *testing.T) {
	fs := newFakeUserStore()
	fs.orgsByInvite["invite-1"] = store.Organization{ID: "org_1", Name: "Acme Legal", InviteCode: "invite-1"}
	svc := NewService(fs)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "blake@example.com",
		Password:    "correct-horse",
		DisplayName: "Blake",
		InviteCode:  "invite-1",
	})
	if err != nil {
		t.Fatalf("sign up with invite: %v", err)
	}
	if resp.User.OrgID != "org_1" {
		t.Fatalf("expected user to join org_1, got %s", resp.User.OrgID)
	}
	if len(fs.createdOrgs) != 0 {
		t.Fatal("joining must not create a new organization")
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	cases := []struct {
		name string
		req  SignUpRequest
		want string
	}{
		{"missing fields", SignUpRequest{Email: "a@b.c"}, "required"},
		{"short password", SignUpRequest{Email: "a@b.c", Password: "short", DisplayName: "A", OrganizationName: "Org"}, "8 characters"},
		{"neither org nor invite", SignUpRequest{Email: "a@b.c", Password: "long-enough", DisplayName: "A"}, "organization name or an invite code"},
		{"both org and invite", SignUpRequest{Email: "a@b.c", Password: "long-enough", DisplayName: "A", OrganizationName: "Org", InviteCode: "x"}, "organization name or an invite code"},
		{"bad invite", SignUpRequest{Email: "a@b.c", Password: "long-enough", DisplayName: "A", InviteCode: "nope"}, "invalid invite code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SignUp(ctx, tc.req)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSignInVerifiesPassword(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Email: "avery@example.com", Password: "correct-horse",
		DisplayName: "Avery", OrganizationName: "Acme Legal",
	}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "wrong"}); err == nil {
		t.Fatal("wrong password must fail")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "ghost@example.com", Password: "whatever"}); err == nil {
		t.Fatal("unknown email must fail")
	}
}
