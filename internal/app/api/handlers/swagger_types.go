package handlers

import (
	"github.com/fatflowers/subledger/internal/app/service/ledger"
	"github.com/fatflowers/subledger/internal/app/service/statistics"
	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespListSubscriptions wraps a subscription page in the standard envelope.
type RespListSubscriptions struct {
	Code    response.APIResponseCode               `json:"code"`
	Message string                                 `json:"message"`
	Data    ledger.ListResult[models.Subscription] `json:"data"`
}

// RespListWebhookEvents wraps a webhook event page in the standard envelope.
type RespListWebhookEvents struct {
	Code    response.APIResponseCode                  `json:"code"`
	Message string                                    `json:"message"`
	Data    ledger.ListResult[models.WebhookEventLog] `json:"data"`
}

type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Subscription      `json:"data"`
}

type RespStatistics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}
