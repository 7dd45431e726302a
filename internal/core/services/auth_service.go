package services

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong
// password; callers must not be able to tell the two apart.
var ErrInvalidCredentials = errors.New("invalid credentials")

const TokenDuration = 30 * time.Minute

// RedisSession records the admin's latest session (jti and expiry)
// under the active_session:<admin id> key. Nothing in this service
// reads it back; revocation goes through the blacklist on logout.
type RedisSession struct {
	JTI string `json:"jti"`
	Exp int64  `json:"exp"`
}

// AuthService issues and revokes the RS256 JWTs that guard the
// producer endpoints. Sessions and the revocation blacklist live in
// Redis with TTLs matching token expiry.
type AuthService struct {
	adminRepo   ports.AdminRepository
	privateKey  *rsa.PrivateKey
	redisClient *redis.Client
}

var _ ports.AuthService = (*AuthService)(nil)

func NewAuthService(adminRepo ports.AdminRepository, privateKey *rsa.PrivateKey, redisClient *redis.Client) *AuthService {
	return &AuthService{
		adminRepo:   adminRepo,
		privateKey:  privateKey,
		redisClient: redisClient,
	}
}

// Login verifies the admin's password and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	admin, err := s.adminRepo.FindByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	jti := uuid.New().String()
	expTime := time.Now().Add(TokenDuration)

	claims := jwt.MapClaims{
		"sub":  admin.ID,
		"role": string(domain.RoleAdmin),
		"jti":  jti,
		"iat":  time.Now().Unix(),
		"exp":  expTime.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", err
	}

	session := RedisSession{JTI: jti, Exp: expTime.Unix()}
	data, _ := json.Marshal(session)

	// Session tracking is best-effort; a Redis hiccup must not block
	// login. Revocation stays possible via the blacklist on logout.
	if err := s.redisClient.Set(ctx, "active_session:"+admin.ID, data, TokenDuration).Err(); err != nil {
		log.Printf("auth: failed to store active session: %v", err)
	}

	return signedToken, nil
}

// Logout blacklists the token's jti for the remainder of its life.
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid claims")
	}

	jti, _ := claims["jti"].(string)
	expTime, _ := claims["exp"].(float64)

	return s.revokeToken(ctx, jti, int64(expTime))
}

func (s *AuthService) revokeToken(ctx context.Context, jti string, expTime int64) error {
	ttl := time.Until(time.Unix(expTime, 0))
	if ttl <= 0 {
		return nil
	}
	return s.redisClient.Set(ctx, "blacklist:"+jti, "revoked", ttl).Err()
}
