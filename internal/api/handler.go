package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"digishop-be/internal/checkout"
	"digishop-be/internal/logger"
	"digishop-be/internal/order"
	"digishop-be/internal/product"
	"digishop-be/internal/utils"

	"go.uber.org/zap"
)

const (
	maxBodyBytes = 64 << 10
	maxCartIDs   = 100
)

// Sealer is satisfied by *sealer.Sealer.
type Sealer interface {
	Seal(plain []byte) (string, error)
}

type Handler struct {
	Orders   order.Service
	Checkout checkout.Service
	Products product.Service
	Sealer   Sealer
	// Gateway names the payment gateway shown to the buyer.
	Gateway string
	// ImageBaseURL prefixes the image paths of cart summaries.
	ImageBaseURL string
}

// Register mounts the buyer facing routes. Cart details are public; wrap is
// applied to every other handler.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /order/cart-details", h.CartDetails)
	mux.Handle("GET /order/unpaid", wrap(http.HandlerFunc(h.UnpaidOrder)))
	mux.Handle("POST /order/submit-cart", wrap(http.HandlerFunc(h.SubmitCart)))
	mux.Handle("POST /order/requirements/{name}", wrap(http.HandlerFunc(h.SubmitRequirement)))
	mux.Handle("POST /payment/start", wrap(http.HandlerFunc(h.StartPayment)))
}

type errorResponse struct {
	ErrorType    string `json:"error_type"`
	ProductID    int64  `json:"product_id,omitempty"`
	ProductTitle string `json:"product_title,omitempty"`
	Stock        *int   `json:"stock,omitempty"`
}

/* ---------- CART ---------- */

type submitCartRequest struct {
	OrderList []order.CartItem `json:"order_list"`
}

func (h *Handler) SubmitCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx)
	userID, _ := utils.GetUserIDFromContext(ctx)

	var req submitCartRequest
	if err := decodeBody(w, r, &req); err != nil || !validCart(req.OrderList) {
		log.Info("[CLIENT_ERROR] Invalid cart data", zap.Error(err))
		utils.WriteJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "validation"})
		return
	}

	oerr := h.Orders.SubmitOrder(ctx, userID, req.OrderList)
	if oerr == nil {
		log.Info("Order submitted successfully", zap.Any("order_list", req.OrderList))
		w.WriteHeader(http.StatusCreated)
		return
	}

	resp := errorResponse{}
	if oerr.Info != nil {
		resp.ProductID = oerr.Info.ProductID
		resp.ProductTitle = oerr.Info.ProductTitle
		resp.Stock = oerr.Info.Stock
	}

	var code int
	switch oerr.ID {
	case order.ErrInvalidID:
		resp.ErrorType, code = "invalid-product", http.StatusBadRequest
	case order.ErrNoProductHandler:
		log.Error("Product cannot be handled", zap.String("product_title", resp.ProductTitle))
		resp.ErrorType, code = "no-product-handler", http.StatusNotImplemented
	case order.ErrOutOfStock:
		resp.ErrorType, code = "out-of-stock", http.StatusNotFound
	case order.ErrLowStock:
		resp.ErrorType, code = "low-stock", http.StatusNotFound
	default:
		log.Error("Order submission failed")
		resp.ErrorType, code = "save-error", http.StatusInternalServerError
	}
	utils.WriteJSON(w, code, resp)
}

func validCart(items []order.CartItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.ProductID <= 0 || it.Count <= 0 {
			return false
		}
	}
	return true
}

type cartDetailsResponse struct {
	ImageBaseURL string            `json:"img_base_url"`
	Summaries    []product.Summary `json:"summaries"`
}

// CartDetails answers ?product_ids=1,2,3 (or repeated product_ids) with the
// summaries of the products that exist.
func (h *Handler) CartDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids, err := parseProductIDs(r.URL.Query()["product_ids"])
	if err != nil {
		logger.FromCtx(ctx).Info("[CLIENT_ERROR] Invalid data", zap.String("query", r.URL.RawQuery), zap.Error(err))
		utils.WriteJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "validation"})
		return
	}

	summaries, err := h.Products.GetSummaries(ctx, ids)
	if err != nil {
		utils.WriteJSONError(w, "failed to load products", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, cartDetailsResponse{
		ImageBaseURL: h.ImageBaseURL,
		Summaries:    summaries,
	})
}

func parseProductIDs(values []string) ([]int64, error) {
	var ids []int64
	seen := map[int64]bool{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid product id %q", part)
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no product ids")
	}
	if len(ids) > maxCartIDs {
		return nil, fmt.Errorf("at most %d product ids", maxCartIDs)
	}
	return ids, nil
}

/* ---------- UNPAID ORDER ---------- */

type requirementView struct {
	Requirement string          `json:"requirement"`
	Data        json.RawMessage `json:"data"`
}

type unpaidOrderResponse struct {
	OrderID      int64             `json:"order_id"`
	Price        int64             `json:"price"`
	Requirements []requirementView `json:"requirements"`
	PaymentGate  string            `json:"payment_gate"`
}

func (h *Handler) UnpaidOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := utils.GetUserIDFromContext(ctx)

	detail, ok := h.Orders.GetUnpaidOrderCheckoutDetails(ctx, userID)
	if !ok {
		utils.WriteJSONError(w, "no unpaid order", http.StatusNotFound)
		return
	}

	names := make([]string, 0, len(detail.Requirements))
	for name := range detail.Requirements {
		names = append(names, name)
	}
	sort.Strings(names)

	reqs := make([]requirementView, 0, len(names))
	for _, name := range names {
		data := detail.Requirements[name]
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		reqs = append(reqs, requirementView{Requirement: name, Data: stripPassword(data)})
	}

	utils.WriteJSON(w, http.StatusOK, unpaidOrderResponse{
		OrderID:      detail.OrderID,
		Price:        detail.Price,
		Requirements: reqs,
		PaymentGate:  h.Gateway,
	})
}

/* ---------- REQUIREMENTS ---------- */

func (h *Handler) SubmitRequirement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	log := logger.FromCtx(ctx).With(zap.String("requirement", name))
	userID, _ := utils.GetUserIDFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "validation"})
		return
	}

	fields, err := decodeRequirement(name, body)
	if err != nil {
		log.Info("[CLIENT_ERROR] Invalid requirement data")
		utils.WriteJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "validation"})
		return
	}

	if pw, ok := fields[passwordField].(string); ok {
		sealed, err := h.Sealer.Seal([]byte(pw))
		if err != nil {
			log.Error("failed to seal password", zap.Error(err))
			utils.WriteJSON(w, http.StatusInternalServerError, errorResponse{ErrorType: "submit-error"})
			return
		}
		fields[passwordField] = sealed
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, errorResponse{ErrorType: "submit-error"})
		return
	}

	ok, err := h.Orders.SubmitRequirement(ctx, userID, name, payload)
	if errors.Is(err, order.ErrNoUnpaidOrder) {
		utils.WriteJSONError(w, "no unpaid order", http.StatusNotFound)
		return
	}
	if !ok {
		log.Error("The requirement could not be submitted")
		utils.WriteJSON(w, http.StatusInternalServerError, errorResponse{ErrorType: "submit-error"})
		return
	}

	log.Info("Requirement submitted")
	w.WriteHeader(http.StatusOK)
}

/* ---------- PAYMENT ---------- */

type startPaymentRequest struct {
	Mobile string `json:"mobile"`
}

type startPaymentResponse struct {
	URL string `json:"url"`
}

func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := utils.GetUserIDFromContext(ctx)

	var req startPaymentRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "validation"})
			return
		}
	}
	if req.Mobile == "" {
		req.Mobile = utils.GetUserMobileFromContext(ctx)
	}

	url, err := h.Checkout.StartPayment(ctx, userID, req.Mobile)
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, startPaymentResponse{URL: url})
	case errors.Is(err, checkout.ErrNoCheckout):
		utils.WriteJSONError(w, "no unpaid order", http.StatusNotFound)
	case errors.Is(err, checkout.ErrRequirementsMissing):
		utils.WriteJSONError(w, "order requirements are missing", http.StatusConflict)
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		utils.WriteJSONError(w, "payment gateway unavailable", http.StatusBadGateway)
	default:
		logger.FromCtx(ctx).Error("failed to start payment", zap.Error(err))
		utils.WriteJSONError(w, "failed to start payment", http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
