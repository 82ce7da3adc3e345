package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/internal/service"
	"github.com/noah-isme/moderation-engine/pkg/config"
)

// Issues a bearer token for an operator or a calling service, signed with
// the JWT_* settings the API validates against.
func main() {
	var (
		user   = flag.String("user", "", "Subject user or service ID")
		role   = flag.String("role", string(models.RoleService), "ADMIN, MODERATOR or SERVICE")
		expiry = flag.Duration("expiry", 0, "Token lifetime, defaults to JWT_EXPIRY")
	)
	flag.Parse()

	if *user == "" {
		flag.Usage()
		log.Fatal("-user is required")
	}
	r := models.UserRole(strings.ToUpper(*role))
	switch r {
	case models.RoleAdmin, models.RoleModerator, models.RoleService:
	default:
		log.Fatalf("unknown role %q", *role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ttl := cfg.JWT.Expiry
	if *expiry > 0 {
		ttl = *expiry
	}

	token, expiresAt, err := service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, ttl).Issue(*user, r)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(token)
	log.Printf("expires at %s", expiresAt.Format(time.RFC3339))
}
