package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService(DefaultConfig("test-secret"))
	actor := model.Actor{ID: uuid.New(), Role: model.RoleChecker}

	tok, err := svc.Issue(actor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := svc.ValidateToken(tok.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if got := claims.Actor(); got != actor {
		t.Errorf("Actor() = %+v, want %+v", got, actor)
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	svc := NewService(DefaultConfig("test-secret"))

	_, err := svc.Issue(model.Actor{ID: uuid.New(), Role: "auditor"})
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Issue() error = %v, want %v", err, ErrInvalidRole)
	}
}

func TestValidateTokenFailures(t *testing.T) {
	svc := NewService(DefaultConfig("test-secret"))
	actor := model.Actor{ID: uuid.New(), Role: model.RoleMaker}

	valid, err := svc.Issue(actor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewService(DefaultConfig("other-secret"))
	foreign, err := other.Issue(actor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	expiring := NewService(DefaultConfig("test-secret"))
	expiring.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }
	expired, err := expiring.Issue(actor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OperatorID: uuid.New(),
		Role:       "root",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", foreign.AccessToken, ErrInvalidToken},
		{"expired", expired.AccessToken, ErrInvalidToken},
		{"unknown role", forged, ErrInvalidRole},
		{"tampered", valid.AccessToken + "x", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}
