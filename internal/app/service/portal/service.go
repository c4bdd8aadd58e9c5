// Package portal opens the gateway-hosted billing portal for a user.
package portal

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/service/ledger"
	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/internal/platform/gateway"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/logctx"
)

type SessionCreator interface {
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

type UserLookup interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// Request is the form body. CustomerID is optional; when present it must be
// the caller's own customer.
type Request struct {
	CustomerID string `form:"customer_id" binding:"omitempty,max=255"`
	ReturnURL  string `form:"return_url" binding:"omitempty,url,max=2048"`
}

type Service struct {
	gw            SessionCreator
	users         UserLookup
	defaultReturn string
	allowedHosts  map[string]bool
	log           *zap.SugaredLogger
}

func NewService(cfg *config.Config, gw SessionCreator, users UserLookup, log *zap.SugaredLogger) *Service {
	hosts := lo.SliceToMap(cfg.Stripe.PortalReturnHosts, func(h string) (string, bool) {
		return strings.ToLower(h), true
	})
	return &Service{
		gw:            gw,
		users:         users,
		defaultReturn: cfg.Stripe.PortalReturnURL,
		allowedHosts:  hosts,
		log:           log,
	}
}

// Create returns the portal URL for the authenticated user. The customer id
// always comes from the user's stored record.
func (s *Service) Create(ctx context.Context, userID int64, req Request) (string, error) {
	user, err := s.users.UserByID(ctx, userID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return "", apperr.Transient(err, "failed to load user")
	}
	customerID := ""
	if user != nil {
		customerID = user.CustomerID()
	}
	if customerID == "" {
		return "", apperr.Validation("no billing customer for user")
	}
	if req.CustomerID != "" && req.CustomerID != customerID {
		logctx.FromCtx(ctx, s.log).Warnw("portal_customer_mismatch", "submitted", req.CustomerID)
		return "", apperr.Validation("customer_id does not belong to the authenticated user")
	}

	returnURL := s.returnURL(req.ReturnURL)
	u, err := s.gw.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("portal_create_failed", "err", err)
		return "", apperr.Gateway(err, "failed to create portal session")
	}
	logctx.FromCtx(ctx, s.log).Infow("portal_created")
	return u, nil
}

// returnURL honours a caller supplied URL only on an allow-listed host.
func (s *Service) returnURL(requested string) string {
	if requested == "" {
		return s.defaultReturn
	}
	u, err := url.Parse(requested)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return s.defaultReturn
	}
	if !s.allowedHosts[strings.ToLower(u.Hostname())] {
		return s.defaultReturn
	}
	return u.String()
}

func provide(cfg *config.Config, gw *gateway.Client, store *ledger.Store, log *zap.SugaredLogger) *Service {
	return NewService(cfg, gw, store, log)
}

var Module = fx.Options(
	fx.Provide(provide),
)
