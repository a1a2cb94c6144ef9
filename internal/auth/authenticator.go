package auth

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
)

// Authenticator checks operator credentials from the configuration.
//
// Thread Safety: safe for concurrent use; the operator set is immutable.
type Authenticator struct {
	operators map[string]*Operator

	// dummyHash is verified for unknown usernames so a miss costs as much
	// as a wrong password.
	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator validates the configured operators.
func NewAuthenticator(cfgs []config.OperatorConfig) (*Authenticator, error) {
	a := &Authenticator{operators: make(map[string]*Operator, len(cfgs))}
	for i, c := range cfgs {
		if !IsValidUsername(c.Username) {
			return nil, fmt.Errorf("%w: operators[%d]: username %q", ErrInvalidOperator, i, c.Username)
		}
		role := Role(c.Role)
		if role == "" {
			role = RoleOperator
		}
		if !IsValidRole(role) {
			return nil, fmt.Errorf("%w: operators[%d]: role %q", ErrInvalidOperator, i, c.Role)
		}
		if _, err := parsePHC(c.PasswordHash); err != nil {
			return nil, fmt.Errorf("%w: operators[%d]: %w", ErrInvalidOperator, i, err)
		}
		if _, dup := a.operators[c.Username]; dup {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrInvalidOperator, c.Username)
		}
		a.operators[c.Username] = &Operator{
			Username:     c.Username,
			Role:         role,
			PasswordHash: c.PasswordHash,
		}
	}
	return a, nil
}

// Enabled reports whether any operator is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.operators) > 0
}

// Operators returns the configured operators sorted by username.
func (a *Authenticator) Operators() []Operator {
	out := make([]Operator, 0, len(a.operators))
	for _, op := range a.operators {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Login verifies a username and password.
// Both an unknown username and a wrong password return ErrInvalidCredentials.
func (a *Authenticator) Login(username, password string) (*Operator, error) {
	op, ok := a.operators[username]
	if !ok {
		a.dummyOnce.Do(func() {
			a.dummyHash, _ = HashPassword("graylogic-dummy") //nolint:errcheck // empty hash still fails verification
		})
		_, _ = VerifyPassword(password, a.dummyHash) //nolint:errcheck // timing only
		return nil, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, op.PasswordHash)
	if err != nil || !match {
		return nil, ErrInvalidCredentials
	}
	cp := *op
	return &cp, nil
}
