package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"digishop-be/internal/checkout"
	"digishop-be/internal/logger"
	"digishop-be/internal/utils"

	"go.uber.org/zap"
)

const maxCallbackBytes = 64 << 10

// Handler receives the Sep redirect callback. Sep posts it from the buyer's
// browser, so every field is untrusted.
type Handler struct {
	Checkout checkout.Service
	// ResultURL, when set, is where the buyer is sent after the callback
	// with the order id and outcome as query parameters.
	ResultURL string
}

func NewSepWebhookHandler(svc checkout.Service, resultURL string) *Handler {
	return &Handler{Checkout: svc, ResultURL: resultURL}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())

	if r.Method != http.MethodPost {
		utils.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBytes)

	callback, err := parseCallback(r)
	if err != nil {
		log.Info("[CLIENT_ERROR] Invalid payment callback", zap.Error(err))
		utils.WriteJSONError(w, "invalid callback payload", http.StatusBadRequest)
		return
	}

	result, err := h.Checkout.CompletePayment(r.Context(), callback)
	switch {
	case errors.Is(err, checkout.ErrInvalidCallback):
		utils.WriteJSONError(w, "unknown order", http.StatusBadRequest)
		return
	case errors.Is(err, checkout.ErrOrderNotPayable):
		utils.WriteJSONError(w, "order is not awaiting payment", http.StatusConflict)
		return
	case err != nil:
		log.Error("payment callback failed", zap.Error(err))
		utils.WriteJSONError(w, "failed to complete payment", http.StatusInternalServerError)
		return
	}

	if h.ResultURL != "" {
		q := url.Values{}
		q.Set("order", fmt.Sprint(result.OrderID))
		q.Set("outcome", string(result.Outcome))
		http.Redirect(w, r, h.ResultURL+"?"+q.Encode(), http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// parseCallback accepts the form post Sep sends, or a flat JSON object.
func parseCallback(r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		callback := make(map[string]string, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				callback[k] = val
			case float64:
				callback[k] = strconv.FormatFloat(val, 'f', -1, 64)
			case nil:
			default:
				b, _ := json.Marshal(val)
				callback[k] = string(b)
			}
		}
		return callback, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	callback := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		callback[k] = r.PostForm.Get(k)
	}
	return callback, nil
}
