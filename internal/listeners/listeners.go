// Package listeners wires side effects onto the event bus.
package listeners

import (
	"context"
	"time"

	"ResQFlow/internal/allocation"
	"ResQFlow/internal/models"
	"ResQFlow/internal/sos"
	"ResQFlow/internal/stock"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/search"

	"go.uber.org/zap"
)

const handlerTimeout = 5 * time.Second

// InitSearchListeners keeps the SOS index in step with the database.
func InitSearchListeners(bus *events.Bus, engine search.Engine, log *zap.Logger) {
	index := func(req *models.SOSRequest) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := engine.Index(ctx, search.SOSDoc(req)); err != nil {
			log.Warn("index sos request", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	bus.Connect(events.SOSCreated, func(sender any, payload any) {
		if req, ok := payload.(*models.SOSRequest); ok {
			index(req)
		}
	})
	bus.Connect(events.SOSStatusChanged, func(sender any, payload any) {
		if ch, ok := payload.(sos.StatusChange); ok && ch.Request != nil {
			index(ch.Request)
		}
	})
}

// InitStockListeners re-evaluates INSUFFICIENT_STOCK flags whenever national stock moves.
func InitStockListeners(bus *events.Bus, suggestions *allocation.Service, log *zap.Logger) {
	bus.Connect(events.StockChanged, func(sender any, payload any) {
		ch, ok := payload.(stock.Change)
		if !ok || ch.Scope != models.ScopeNational {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		n, err := suggestions.RefreshFlags(ctx, ch.ResourceType)
		if err != nil {
			log.Warn("refresh suggestion flags", zap.String("resource_type", ch.ResourceType), zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("suggestion flags refreshed",
				zap.String("resource_type", ch.ResourceType),
				zap.String("reason", ch.Reason),
				zap.Int("changed", n))
		}
	})
}

// InitMetricsListeners counts ingested suggestions, approved allocations and critical alerts.
func InitMetricsListeners(bus *events.Bus, m *metrics.Metrics) {
	bus.Connect(events.SuggestionIngested, func(sender any, payload any) {
		if sg, ok := payload.(*models.AllocationSuggestion); ok {
			m.RecordSuggestionIngested(sg.ResourceType, sg.HasFlag(models.FlagInsufficientStock))
		}
	})
	bus.Connect(events.SuggestionReviewed, func(sender any, payload any) {
		rv, ok := payload.(allocation.Reviewed)
		if !ok || rv.Decision != allocation.Approve || rv.Suggestion == nil {
			return
		}
		m.AddAllocated(rv.Suggestion.ResourceType, rv.Suggestion.ProvinceID, rv.Suggestion.SuggestedQuantity)
	})
	bus.Connect(events.MissingCritical, func(sender any, payload any) {
		if c, ok := payload.(*models.MissingPersonCase); ok {
			m.RecordCriticalAlert(c.DistrictID)
		}
	})
}
