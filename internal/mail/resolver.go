package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/secret"
)

// fallbackCacheKey caches the environment-level fallback transport.
const fallbackCacheKey uint = 0

// FallbackConfig is the environment-level transport used when no EmailAccount
// resolves. Host empty means no fallback is configured.
type FallbackConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Resolver selects and configures a transport per account, caching instances
// per resolved identity. Cache entries drop on credential updates and on any
// authentication-class failure, so a corrected credential takes effect on the
// next attempt without manual intervention.
type Resolver struct {
	db       *gorm.DB
	secrets  *secret.Box
	fallback FallbackConfig

	mu    sync.Mutex
	cache map[uint]Transport
}

func NewResolver(db *gorm.DB, secrets *secret.Box, fallback FallbackConfig) *Resolver {
	return &Resolver{
		db:       db,
		secrets:  secrets,
		fallback: fallback,
		cache:    make(map[uint]Transport),
	}
}

// Resolve returns a ready transport. Resolution order: explicit account id,
// the user's default account, then the environment fallback.
func (r *Resolver) Resolve(ctx context.Context, accountID *uint, userID uint) (Transport, error) {
	var account models.EmailAccount
	switch {
	case accountID != nil:
		if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account, *accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("email account %d: %w", *accountID, ErrNoTransportConfigured)
			}
			return nil, err
		}
	default:
		err := r.db.WithContext(ctx).Where("user_id = ? AND is_default = ?", userID, true).First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return r.fallbackTransport()
		}
		if err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[account.ID]; ok {
		return t, nil
	}
	t, err := r.build(&account)
	if err != nil {
		return nil, err
	}
	t = &invalidating{Transport: t, id: account.ID, r: r}
	r.cache[account.ID] = t
	return t, nil
}

func (r *Resolver) fallbackTransport() (Transport, error) {
	if r.fallback.Host == "" {
		return nil, ErrNoTransportConfigured
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[fallbackCacheKey]; ok {
		return t, nil
	}
	t := Transport(&SMTPTransport{
		Host:     r.fallback.Host,
		Port:     r.fallback.Port,
		Username: r.fallback.User,
		Password: r.fallback.Pass,
		From:     r.fallback.From,
		Provider: Classify(r.fallback.User, r.fallback.Host),
	})
	t = &invalidating{Transport: t, id: fallbackCacheKey, r: r}
	r.cache[fallbackCacheKey] = t
	return t, nil
}

// build decrypts stored credentials and assembles the transport. OAuth2 wins
// whenever all three OAuth fields are present, regardless of classification.
func (r *Resolver) build(account *models.EmailAccount) (Transport, error) {
	provider := Classify(account.SMTPUser, account.SMTPHost)
	t := &SMTPTransport{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		Username: account.SMTPUser,
		From:     account.SMTPUser,
		Provider: provider,
	}
	if account.HasOAuth() {
		clientSecret, err := r.secrets.Decrypt(account.OAuthClientSecret)
		if err != nil {
			return nil, fmt.Errorf("account %d oauth client secret: %w", account.ID, err)
		}
		refreshToken, err := r.secrets.Decrypt(account.OAuthRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("account %d oauth refresh token: %w", account.ID, err)
		}
		t.OAuth = &OAuthCredentials{
			ClientID:     account.OAuthClientID,
			ClientSecret: clientSecret,
			RefreshToken: refreshToken,
			AccessToken:  account.OAuthAccessToken,
		}
		return t, nil
	}
	pass, err := r.secrets.Decrypt(account.SMTPPass)
	if err != nil {
		return nil, fmt.Errorf("account %d smtp password: %w", account.ID, err)
	}
	t.Password = pass
	return t, nil
}

// Invalidate drops the cached transport for an account. Call after any
// credential update.
func (r *Resolver) Invalidate(accountID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, accountID)
}

// invalidating wraps a cached transport so auth-class failures evict it
// immediately for all concurrent callers.
type invalidating struct {
	Transport
	id uint
	r  *Resolver
}

func (t *invalidating) Send(ctx context.Context, msg Message) error {
	err := t.Transport.Send(ctx, msg)
	if IsAuthError(err) {
		log.Warn().Uint("account", t.id).Msg("auth failure, evicting cached transport")
		t.r.Invalidate(t.id)
	}
	return err
}

func (t *invalidating) Verify(ctx context.Context) error {
	err := t.Transport.Verify(ctx)
	if IsAuthError(err) {
		t.r.Invalidate(t.id)
	}
	return err
}
