// Command devtoken prints an HS256 bearer token for local testing.
//
//	go run ./cmd/devtoken -user alice -role bank_employee
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/impnet/service_layer/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	user := flag.String("user", "", "identity to embed in the token (required)")
	role := flag.String("role", "citizen", "role claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret (defaults to $JWT_SECRET)")
	flag.Parse()

	if *user == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *secret == "" {
		log.Fatal("JWT secret required: pass -secret or set JWT_SECRET")
	}

	token, err := middleware.SignHMAC([]byte(*secret), *user, *role, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
