// Package auth resolves a request's Firebase identity to an isolated
// trading account: each verified user maps to their own broker
// credentials and symbol. cmd/tradingcore looks up the configured user's
// account at startup; the per-user orchestrator (engine component I) does
// not consult this package.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	firebase "firebase.google.com/go"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ErrUnknownAccount is returned when a verified user has no registered
// trading account.
var ErrUnknownAccount = errors.New("auth: no trading account registered for user")

// Account is one user's isolated trading identity: their own broker
// credentials and the symbol they trade, kept separate from every other
// user's so one user's kill-switch or credentials error never touches
// another's positions.
type Account struct {
	UserID string
	Email string
	BinanceAPIKey string
	BinanceAPISecret string
	Symbol string
}

// AccountStore owns the Firebase app and an in-memory UID→Account map,
// kept as an instance rather than a package-level global so multiple
// credential sets (e.g. one per deployment) don't collide.
type AccountStore struct {
	mu sync.RWMutex
	app *firebase.App
	accounts map[string]Account
	log zerolog.Logger
}

// NewAccountStore initializes the Firebase Admin SDK from credentialsFile.
func NewAccountStore(credentialsFile string, log zerolog.Logger) (*AccountStore, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		return nil, err
	}
	return &AccountStore{
		app: app,
		accounts: make(map[string]Account),
		log: log.With().Str("component", "auth").Logger(),
	}, nil
}

// Register adds or replaces a user's isolated trading account.
func (s *AccountStore) Register(acc Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.UserID] = acc
}

// Lookup returns the trading account for userID.
func (s *AccountStore) Lookup(userID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return acc, nil
}

type contextKey struct{}

// Middleware verifies the bearer ID token and attaches the resolved UID
// to the request context.
func (s *AccountStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			client, err := s.app.Auth(r.Context())
			if err != nil {
				s.log.Error().Err(err).Msg("firebase auth client unavailable")
				http.Error(w, "internal auth error", http.StatusInternalServerError)
				return
			}

			token, err := client.VerifyIDToken(r.Context(), tokenString)
			if err != nil {
				s.log.Warn().Err(err).Msg("invalid id token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, token.UID)
			next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext extracts the UID a Middleware call attached.
func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(contextKey{}).(string)
	return uid, ok
}
