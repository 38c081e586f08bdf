package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/models"
)

const (
	cvsFee            int64 = 60
	cvsFreeThreshold  int64 = 500
	homeFreeThreshold int64 = 1000
)

// ShippingFee applies the delivery fee table. homeFee is the configured
// home-delivery charge below the free threshold.
func ShippingFee(method models.ShippingMethod, subtotal, homeFee int64) int64 {
	switch method {
	case models.ShippingCVS:
		if subtotal >= cvsFreeThreshold {
			return 0
		}
		return cvsFee
	case models.ShippingHome:
		if subtotal >= homeFreeThreshold {
			return 0
		}
		return homeFee
	default:
		return 0
	}
}

// homeDeliveryFee reads the admin setting, falling back to fallback when it
// is absent or unparsable.
func homeDeliveryFee(ctx context.Context, tx db.Tx, fallback int64, logger *slog.Logger) (int64, error) {
	raw, err := tx.Setting(ctx, db.SettingHomeDeliveryFee)
	if errors.Is(err, db.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}

	fee, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || fee < 0 {
		logger.Warn("ignoring malformed home delivery fee setting", "value", raw)
		return fallback, nil
	}
	return fee, nil
}
