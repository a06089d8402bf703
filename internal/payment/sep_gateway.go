package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"digishop-be/internal/card"
	"digishop-be/internal/config"
	"digishop-be/internal/logger"
	"digishop-be/internal/metrics"
	"digishop-be/internal/notify"

	"go.uber.org/zap"
)

const (
	sepBaseURL    = "https://sep.shaparak.ir"
	sepTokenPath  = "/onlinepg/onlinepg"
	sepRedirect   = "/OnlinePG/SendToken"
	sepVerifyPath = "/verifyTxnRandomSessionkey/ipg/VerifyTransaction"

	sepName       = "sep"
	sepDateLayout = "2006-01-02 15:04:05"

	// Sep amounts are rial; the store prices in toman.
	sepUnitMultiplier = 10

	sepAlertMsg = "[SEP] Operation failed. Please check the logs and consider " +
		"changing the payment gateway if necessary."
)

// VerificationWindow is how old a transaction may be and still be verified.
// Older ones are refused as possible duplicates.
const VerificationWindow = time.Hour

type SepOptions struct {
	TerminalID  string
	CallbackURL string
	// BaseURL overrides the production endpoint, mostly for tests.
	BaseURL string
	Runtime *config.Runtime
	Records Repository
	Alerter notify.Alerter
	Metrics metrics.Recorder
	Wage    WagePolicy
	// Now defaults to time.Now.
	Now func() time.Time
}

type sepGateway struct {
	terminalID  string
	callbackURL string
	baseURL     string
	httpClient  *http.Client
	tehranLoc   *time.Location
	records     Repository
	alerter     notify.Alerter
	metrics     metrics.Recorder
	wage        WagePolicy
	now         func() time.Time
}

// ----------------- Constructor -----------------

func NewSepGateway(opts SepOptions) Gateway {
	if opts.TerminalID == "" {
		logger.L().Warn("Sep terminal id is empty")
	}

	loc, err := time.LoadLocation("Asia/Tehran")
	if err != nil {
		logger.L().Warn("failed to load Tehran location, falling back to UTC+03:30", zap.Error(err))
		loc = time.FixedZone("IRST", 3*60*60+30*60)
	}

	timeout := 10 * time.Second
	if opts.Runtime != nil {
		timeout = opts.Runtime.HTTPRequestTimeout
	}

	g := &sepGateway{
		terminalID:  opts.TerminalID,
		callbackURL: opts.CallbackURL,
		baseURL:     opts.BaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		tehranLoc:   loc,
		records:     opts.Records,
		alerter:     opts.Alerter,
		metrics:     opts.Metrics,
		wage:        opts.Wage,
		now:         opts.Now,
	}
	if g.baseURL == "" {
		g.baseURL = sepBaseURL
	}
	if g.alerter == nil {
		g.alerter = notify.Nop{}
	}
	if g.metrics == nil {
		g.metrics = metrics.Nop()
	}
	if g.wage == nil {
		g.wage = SepWage{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// ----------------- Wire types -----------------

type sepTokenRequest struct {
	Action      string `json:"action"`
	TerminalID  string `json:"TerminalId"`
	Amount      int64  `json:"Amount"`
	ResNum      string `json:"ResNum"`
	RedirectURL string `json:"RedirectUrl"`
	CellNumber  string `json:"CellNumber,omitempty"`
}

type sepTokenResponse struct {
	Status *int    `json:"status"`
	Token  *string `json:"token"`
}

type sepVerifyRequest struct {
	TerminalNumber string `json:"TerminalNumber"`
	RefNum         string `json:"RefNum"`
}

type sepVerifyResponse struct {
	Success           *bool                 `json:"Success"`
	ResultCode        *int                  `json:"ResultCode"`
	TransactionDetail *sepTransactionDetail `json:"TransactionDetail"`
}

type sepTransactionDetail struct {
	MaskedPan       *string         `json:"MaskedPan"`
	StraceDate      *string         `json:"StraceDate"`
	AffectiveAmount json.RawMessage `json:"AffectiveAmount"`
}

func (x *sepGateway) PayableAmount(amount int64) int64 {
	return (amount + x.wage.Wage(amount)) * sepUnitMultiplier
}

// ----------------- RequestPayment -----------------

func (x *sepGateway) RequestPayment(ctx context.Context, orderID string, amount int64, mobile string) (string, bool) {
	log := logger.FromCtx(ctx).With(
		zap.String("order_id", orderID),
		zap.Int64("amount", amount),
		zap.String("mobile", mobile),
	)

	body := sepTokenRequest{
		Action:      "token",
		TerminalID:  x.terminalID,
		Amount:      x.PayableAmount(amount),
		ResNum:      orderID,
		RedirectURL: x.callbackURL,
	}
	if mobile = strings.TrimPrefix(mobile, "0"); mobile != "" {
		body.CellNumber = "0" + mobile
	}

	log.Info("Payment request has been made")

	status, raw, err := x.post(ctx, "token", sepTokenPath, body)
	if err != nil {
		log.Error("Sep token request failed", zap.Error(err))
		x.alert(ctx)
		return "", false
	}

	if status != http.StatusOK {
		log.Error("Sep returned non-success status", zap.Int("status", status))
		x.alert(ctx)
		return "", false
	}

	log.Info("Sep token response", zap.ByteString("response", raw))

	var res sepTokenResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		log.Error("response isn't json", zap.Error(err), zap.ByteString("response", raw))
		x.alert(ctx)
		return "", false
	}

	if res.Status == nil {
		log.Error("Sep response is missing status", zap.ByteString("response", raw))
		x.alert(ctx)
		return "", false
	}

	if *res.Status != 1 {
		log.Error("result code isn't 1", zap.ByteString("response", raw))
		x.alert(ctx)
		return "", false
	}

	if res.Token == nil || *res.Token == "" {
		log.Error("Sep response is missing token", zap.ByteString("response", raw))
		x.alert(ctx)
		return "", false
	}

	return *res.Token, true
}

func (x *sepGateway) PaymentURL(token string) string {
	return x.baseURL + sepRedirect + "?token=" + url.QueryEscape(token)
}

// ----------------- IsPaymentVerifiable -----------------

func (x *sepGateway) IsPaymentVerifiable(ctx context.Context, callback map[string]string, authorizedCards []string) Status {
	log := logger.FromCtx(ctx).With(zap.Any("callback", callback))

	state, ok := callback["State"]
	if !ok {
		log.Error("callback is missing State")
		x.alert(ctx)
		return StatusUnknown
	}

	if state != "OK" {
		log.Warn("'State' key is not 'OK'")
		return StatusPaymentFailed
	}

	if len(authorizedCards) > 0 {
		pan, okPan := callback["SecurePan"]
		hash, okHash := callback["HashedCardNumber"]
		if !okPan || !okHash {
			log.Error("callback is missing card fields")
			x.alert(ctx)
			return StatusUnknown
		}

		if !card.IsAuthorized(ctx, pan, hash, authorizedCards) {
			log.Info("[CLIENT_ERROR] Unauthorized card")
			return StatusUnauthorizedCard
		}
	}

	return StatusOK
}

// ----------------- VerifyPayment -----------------

func (x *sepGateway) VerifyPayment(ctx context.Context, trackID string) (*VerifiedResult, bool) {
	log := logger.FromCtx(ctx).With(zap.String("track_id", trackID))

	exists, err := x.records.Exists(ctx, trackID)
	if err != nil {
		log.Error("failed to look up verification record", zap.Error(err))
		x.metrics.Verification(sepName, "store_error")
		return nil, false
	}
	if exists {
		log.Warn("Transaction has already been verified")
		x.metrics.Verification(sepName, "duplicate")
		return nil, false
	}

	log.Info("Verification of transaction has been requested")

	status, raw, err := x.post(ctx, "verify", sepVerifyPath, sepVerifyRequest{
		TerminalNumber: x.terminalID,
		RefNum:         trackID,
	})
	if err != nil {
		log.Error("Sep verify request failed", zap.Error(err))
		x.alert(ctx)
		x.metrics.Verification(sepName, "transport_error")
		return nil, false
	}

	if status != http.StatusOK {
		log.Error("Sep returned non-success status", zap.Int("status", status))
		x.alert(ctx)
		x.metrics.Verification(sepName, "http_error")
		return nil, false
	}

	log = log.With(zap.ByteString("response", raw))
	log.Info("Sep verify response")

	var res sepVerifyResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		log.Error("response isn't json", zap.Error(err))
		x.alert(ctx)
		x.metrics.Verification(sepName, "invalid_response")
		return nil, false
	}

	if res.Success == nil || res.ResultCode == nil {
		log.Error("Sep response is missing Success or ResultCode")
		x.alert(ctx)
		x.metrics.Verification(sepName, "invalid_response")
		return nil, false
	}

	if !*res.Success || *res.ResultCode != 0 {
		log.Warn("Sep refused verification")
		x.alert(ctx)
		x.metrics.Verification(sepName, "refused")
		return nil, false
	}

	detail := res.TransactionDetail
	if detail == nil || detail.MaskedPan == nil || detail.StraceDate == nil {
		log.Error("Sep response is missing transaction detail")
		x.alert(ctx)
		x.metrics.Verification(sepName, "invalid_response")
		return nil, false
	}

	pan := *detail.MaskedPan
	if len(pan) != 16 {
		log.Warn("The card number is not 16 digits long")
		x.metrics.Verification(sepName, "invalid_card")
		return nil, false
	}

	paidAt, err := time.ParseInLocation(sepDateLayout, *detail.StraceDate, x.tehranLoc)
	if err != nil {
		log.Error("invalid StraceDate", zap.Error(err))
		x.alert(ctx)
		x.metrics.Verification(sepName, "invalid_response")
		return nil, false
	}
	paidAt = paidAt.UTC()

	if x.now().Sub(paidAt) > VerificationWindow {
		log.Warn("Given that this transaction is over an hour old, verification " +
			"will be omitted due to the risk of duplication")
		x.metrics.Verification(sepName, "stale")
		return nil, false
	}

	// The record is the only guarantee against verifying twice. If it cannot
	// be written the payment is treated as unverified.
	if err := x.records.Save(ctx, Record{RefNum: trackID, PaymentDate: paidAt}); err != nil {
		log.Error("failed to save verification record", zap.Error(err))
		outcome := "store_error"
		if errors.Is(err, ErrDuplicateVerification) {
			outcome = "duplicate"
		}
		x.metrics.Verification(sepName, outcome)
		return nil, false
	}

	first, last := pan[:6], pan[len(pan)-4:]
	amount, ok := parseIntAmount(detail.AffectiveAmount)

	if !isDigits(first) || !isDigits(last) || !ok {
		log.Warn("The card number or response amount is invalid")
		x.metrics.Verification(sepName, "invalid_card")
		return nil, false
	}

	x.metrics.Verification(sepName, "ok")

	return &VerifiedResult{
		PaidAmount: amount,
		Card: MaskedCard{
			FirstDigits: first,
			LastDigits:  last,
		},
	}, true
}

// ----------------- InquiryPayment -----------------

// InquiryPayment calls the verify endpoint without touching the record
// store. Sep verifies successful transactions on this call, so callers must
// have checked the payer's card first.
func (x *sepGateway) InquiryPayment(ctx context.Context, trackID string) InquiryResult {
	log := logger.FromCtx(ctx).With(zap.String("track_id", trackID))

	status, raw, err := x.post(ctx, "inquiry", sepVerifyPath, sepVerifyRequest{
		TerminalNumber: x.terminalID,
		RefNum:         trackID,
	})
	if err != nil {
		log.Warn("Sep inquiry failed", zap.Error(err))
		return InquiryResult{Error: &InquiryError{Kind: InquiryConnectionError, Message: err.Error()}}
	}

	if status != http.StatusOK {
		log.Warn("Sep inquiry returned non-success status", zap.Int("status", status))
		return InquiryResult{Error: &InquiryError{Kind: InquiryHTTPError, RawResult: string(raw)}}
	}

	if !json.Valid(raw) {
		log.Warn("Invalid inquiry response", zap.ByteString("response", raw))
		return InquiryResult{Error: &InquiryError{Kind: InquiryInvalidJSON, RawResult: string(raw)}}
	}

	return InquiryResult{Response: json.RawMessage(raw)}
}

// ----------------- helpers -----------------

func (x *sepGateway) post(ctx context.Context, operation, path string, body any) (int, []byte, error) {
	timer := metrics.StartTimer()
	status, raw, err := x.do(ctx, path, body)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "transport_error"
	case status != http.StatusOK:
		outcome = "http_error"
	}
	x.metrics.GatewayCall(sepName, operation, outcome, timer.Duration())

	return status, raw, err
}

func (x *sepGateway) do(ctx context.Context, path string, body any) (int, []byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal sep request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("build sep request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read sep response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func (x *sepGateway) alert(ctx context.Context) {
	x.alerter.Alert(ctx, notify.SeverityError, sepAlertMsg)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseIntAmount accepts only a JSON integer.
func parseIntAmount(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}
