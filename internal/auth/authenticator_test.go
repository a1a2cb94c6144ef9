package auth

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
)

var (
	hashOnce sync.Once
	testHash string
)

// operatorHash hashes "s3cret" once per test binary; argon2id is slow.
func operatorHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := HashPassword("s3cret")
		if err != nil {
			t.Fatalf("HashPassword() error = %v", err)
		}
		testHash = h
	})
	return testHash
}

func TestNewAuthenticator(t *testing.T) {
	hash := operatorHash(t)

	tests := []struct {
		name    string
		ops     []config.OperatorConfig
		wantErr bool
	}{
		{"none", nil, false},
		{"valid", []config.OperatorConfig{{Username: "installer", PasswordHash: hash, Role: "admin"}}, false},
		{"default role", []config.OperatorConfig{{Username: "guest", PasswordHash: hash}}, false},
		{"bad username", []config.OperatorConfig{{Username: "bad name", PasswordHash: hash}}, true},
		{"bad role", []config.OperatorConfig{{Username: "a", PasswordHash: hash, Role: "owner"}}, true},
		{"bad hash", []config.OperatorConfig{{Username: "a", PasswordHash: "plain"}}, true},
		{
			"duplicate",
			[]config.OperatorConfig{{Username: "a", PasswordHash: hash}, {Username: "a", PasswordHash: hash}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAuthenticator(tt.ops)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAuthenticator() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOperator) {
				t.Errorf("error = %v, want ErrInvalidOperator", err)
			}
		})
	}
}

func TestAuthenticator_Login(t *testing.T) {
	a, err := NewAuthenticator([]config.OperatorConfig{
		{Username: "installer", PasswordHash: operatorHash(t), Role: "admin"},
		{Username: "guest", PasswordHash: operatorHash(t)},
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	if !a.Enabled() {
		t.Error("Enabled() = false with operators configured")
	}

	op, err := a.Login("installer", "s3cret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if op.Username != "installer" || op.Role != RoleAdmin {
		t.Errorf("operator = %+v", op)
	}

	for _, tc := range []struct{ user, pass string }{
		{"installer", "wrong"},
		{"nobody", "s3cret"},
	} {
		if _, err := a.Login(tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q) error = %v, want ErrInvalidCredentials", tc.user, err)
		}
	}

	ops := a.Operators()
	if len(ops) != 2 || ops[0].Username != "guest" || ops[0].Role != RoleOperator {
		t.Errorf("Operators() = %+v", ops)
	}
}

func TestAuthenticator_Disabled(t *testing.T) {
	var a *Authenticator
	if a.Enabled() {
		t.Error("nil authenticator reports enabled")
	}
	empty, _ := NewAuthenticator(nil)
	if empty.Enabled() {
		t.Error("authenticator without operators reports enabled")
	}
}
