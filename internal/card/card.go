// Package card matches gateway-masked card numbers against a user's
// allowlist of full card numbers.
package card

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"digishop-be/internal/logger"

	"go.uber.org/zap"
)

const maskedLength = 16

// IsAuthorized reports whether maskedCard (first 6 and last 4 digits visible)
// with the gateway-supplied SHA-256 cardHashHex belongs to one of
// authorizedCards. The digit groups pick candidates; the hash decides.
func IsAuthorized(ctx context.Context, maskedCard, cardHashHex string, authorizedCards []string) bool {
	log := logger.FromCtx(ctx)

	if len(maskedCard) != maskedLength {
		return false
	}

	want, err := hex.DecodeString(cardHashHex)
	if err != nil {
		log.Warn("card hash is not valid hex", zap.Error(err))
		return false
	}

	first, last := maskedCard[:6], maskedCard[len(maskedCard)-4:]

	for _, candidate := range authorizedCards {
		if len(candidate) < 10 {
			continue
		}
		if candidate[:6] != first || candidate[len(candidate)-4:] != last {
			continue
		}

		sum := sha256.Sum256([]byte(candidate))
		if subtle.ConstantTimeCompare(sum[:], want) == 1 {
			return true
		}
	}

	log.Info("[CLIENT_ERROR] Unauthorized card number", zap.String("masked_card", maskedCard))
	return false
}
