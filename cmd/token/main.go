// Command token issues an operator access token signed with JWT_SECRET.
//
//	go run ./cmd/token -role checker
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/auth"
	"github.com/simonkvalheim/hm9-backoffice/internal/config"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

func main() {
	role := flag.String("role", string(model.RoleMaker), "operator role: superadmin, admin, checker or maker")
	id := flag.String("id", "", "operator id (random when empty)")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	operatorID := uuid.New()
	if *id != "" {
		if operatorID, err = uuid.Parse(*id); err != nil {
			log.Fatalf("Invalid operator id: %v", err)
		}
	}

	authCfg := auth.DefaultConfig(cfg.JWTSecret)
	authCfg.TokenExpiry = *ttl
	tok, err := auth.NewService(authCfg).Issue(model.Actor{ID: operatorID, Role: model.Role(*role)})
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println(tok.AccessToken)
}
