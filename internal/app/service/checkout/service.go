// Package checkout starts hosted checkout sessions for authenticated users.
package checkout

//go:generate mockgen -source=service.go -destination=mock_checkout_test.go -package=checkout

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/service/ledger"
	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/internal/platform/gateway"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/logctx"
)

type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, in gateway.CheckoutSessionInput) (string, error)
}

type Store interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
	ActivePackageByPriceID(ctx context.Context, priceID string) (*models.Package, error)
}

// Request is the checkout body. Locales are the ones hosted checkout
// supports.
type Request struct {
	PriceID string `json:"priceId" binding:"required,max=255"`
	Locale  string `json:"locale" binding:"omitempty,oneof=auto bg cs da de el en en-GB es es-419 et fi fil fr fr-CA hr hu id it ja ko lt lv ms mt nb nl pl pt pt-BR ro ru sk sl sv th tr vi zh zh-HK zh-TW"`
}

type Service struct {
	gw    SessionCreator
	store Store
	log   *zap.SugaredLogger
}

func NewService(gw SessionCreator, store Store, log *zap.SugaredLogger) *Service {
	return &Service{gw: gw, store: store, log: log}
}

// Create returns the hosted checkout URL. Nothing is written locally: the
// subscription appears once the gateway reports the completed session.
func (s *Service) Create(ctx context.Context, userID int64, req Request) (string, error) {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", apperr.NotFound("user not found")
		}
		return "", apperr.Transient(err, "failed to load user")
	}
	customerID := user.CustomerID()
	if customerID == "" {
		return "", apperr.NotFound("billing customer not found")
	}

	pkg, err := s.store.ActivePackageByPriceID(ctx, req.PriceID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", apperr.NotFound("package not found")
		}
		return "", apperr.Transient(err, "failed to load package")
	}

	locale := req.Locale
	if locale == "" {
		locale = "auto"
	}
	url, err := s.gw.CreateCheckoutSession(ctx, gateway.CheckoutSessionInput{
		UserID:     user.ID,
		CustomerID: customerID,
		PriceID:    pkg.GatewayPriceID,
		Locale:     locale,
	})
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("checkout_create_failed", "price_id", req.PriceID, "err", err)
		return "", apperr.Gateway(err, "failed to create checkout session")
	}
	logctx.FromCtx(ctx, s.log).Infow("checkout_created", "package_id", pkg.ID, "price_id", pkg.GatewayPriceID)
	return url, nil
}

func provide(gw *gateway.Client, store *ledger.Store, log *zap.SugaredLogger) *Service {
	return NewService(gw, store, log)
}

var Module = fx.Options(
	fx.Provide(provide),
)
