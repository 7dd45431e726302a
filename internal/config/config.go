package config

import (
	"crypto/rsa"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the configuration for the producer API process
// (cmd/api): the HTTP surface that runs the CreateUser use case behind
// an admin-only guard.
type Config struct {
	JWTPrivateKey *rsa.PrivateKey
	JWTPublicKey  *rsa.PublicKey
	DatabaseURL   string
	Port          string
	Environment   string
	RedisAddress  string
	RedisPassword string

	// AdminEmail/AdminPassword, when both set, bootstrap the one
	// privileged account allowed to call the protected endpoints.
	AdminEmail    string
	AdminPassword string

	CORSAllowedOrigins []string
}

func Load() *Config {
	privateKeyPath := os.Getenv("PRIVATE_KEY_PATH")
	if privateKeyPath == "" {
		privateKeyPath = "/etc/certs/private.pem"
	}
	privateKey, err := loadPrivateKey(privateKeyPath)
	if err != nil {
		panic("Failed to load private key: " + err.Error())
	}

	publicKeyPath := os.Getenv("PUBLIC_KEY_PATH")
	if publicKeyPath == "" {
		publicKeyPath = "/etc/certs/public.pem"
	}
	publicKey, err := loadPublicKey(publicKeyPath)
	if err != nil {
		panic("Failed to load public key: " + err.Error())
	}

	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		panic("DB_CONNECTION_STRING environment variable is required")
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "Local"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	corsOrigins := []string{"*"}
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		corsOrigins = strings.Split(raw, ",")
	}

	return &Config{
		JWTPrivateKey:      privateKey,
		JWTPublicKey:       publicKey,
		DatabaseURL:        dbURL,
		Port:               port,
		Environment:        environment,
		RedisAddress:       os.Getenv("REDIS_ADDRESS"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		AdminEmail:         os.Getenv("ADMIN_EMAIL"),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
		CORSAllowedOrigins: corsOrigins,
	}
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, err
	}
	return privateKey, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(keyData)
	if err != nil {
		return nil, err
	}
	return publicKey, nil
}
