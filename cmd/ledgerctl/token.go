package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/policeintel/auditledger/internal/identity"
	"github.com/policeintel/auditledger/internal/ledger"
)

var (
	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an actor token (development)",
	Long: `Token signs an actor token with the server's shared secret. It is meant
for development and test environments; production tokens come from the
identity provider.

  ledgerctl token --secret $AUTH_JWT_SECRET --actor-id u1 --actor-role DETECTIVE`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("jwt_secret")
		}
		if secret == "" {
			return errors.New("--secret is required")
		}
		issuer, err := identity.NewTokenIssuer(secret, tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(ledger.Actor{ID: actorID, BadgeNumber: actorBadge, Role: actorRole})
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "shared signing secret (auth.jwt_secret on the server)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "auditledger", "token issuer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "token lifetime")
}
