package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
)

// Claims are the identity assertions issued by the external identity provider.
// Subject carries the actor id.
type Claims struct {
	Orgs  []string `json:"orgs,omitempty"`
	Admin bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTService validates identity tokens. GenerateIdentityToken exists for local
// development and tests; production tokens come from the identity provider.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

func (s *JWTService) GenerateIdentityToken(
	actorID domain.ActorID,
	orgs []domain.OrgID,
	admin bool,
	expiresIn time.Duration) (string, error) {
	orgIDs := make([]string, 0, len(orgs))
	for _, org := range orgs {
		orgIDs = append(orgIDs, org.String())
	}
	now := time.Now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Orgs:  orgIDs,
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return newToken.SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// ToActor converts verified claims into the domain actor.
func ToActor(claims *Claims) (domain.Actor, error) {
	actorID, err := domain.ParseActorID(claims.Subject)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	orgs := make([]domain.OrgID, 0, len(claims.Orgs))
	for _, raw := range claims.Orgs {
		org, err := domain.ParseOrgID(raw)
		if err != nil {
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid organization claim")
		}
		orgs = append(orgs, org)
	}
	return domain.Actor{ID: actorID, Orgs: orgs, Admin: claims.Admin}, nil
}
