package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"digishop-be/internal/config"
	"digishop-be/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper allows us to mock the HTTP response
type MockRoundTripper func(req *http.Request) *http.Response

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

type MockRoundTripperWithError func(req *http.Request) (*http.Response, error)

func (f MockRoundTripperWithError) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

// memRepository enforces refnum uniqueness the way the table's constraint does.
type memRepository struct {
	mu       sync.Mutex
	records  map[string]Record
	existErr error
	saveErr  error
}

func newMemRepository() *memRepository {
	return &memRepository{records: make(map[string]Record)}
}

func (m *memRepository) Exists(ctx context.Context, refNum string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existErr != nil {
		return false, m.existErr
	}
	_, ok := m.records[refNum]
	return ok, nil
}

func (m *memRepository) Save(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.records[rec.RefNum]; ok {
		return ErrDuplicateVerification
	}
	m.records[rec.RefNum] = rec
	return nil
}

func (m *memRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.records {
		if r.PaymentDate.Before(before) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

type countingAlerter struct {
	n atomic.Int32
}

func (c *countingAlerter) Alert(context.Context, notify.Severity, string) { c.n.Add(1) }

// outcomeRecorder keeps the verification outcomes it was handed.
type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) GatewayCall(string, string, string, time.Duration) {}
func (r *outcomeRecorder) OrderSubmission(string)                          {}

func (r *outcomeRecorder) Verification(_ string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

// 2024-03-01 10:00:00 UTC is 13:30:00 in Tehran.
var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestGateway(t *testing.T) (*sepGateway, *memRepository, *countingAlerter) {
	t.Helper()
	repo := newMemRepository()
	alerter := &countingAlerter{}
	gw := NewSepGateway(SepOptions{
		TerminalID:  "T-1",
		CallbackURL: "https://shop.example/payment/callback",
		Runtime:     &config.Runtime{HTTPRequestTimeout: time.Second},
		Records:     repo,
		Alerter:     alerter,
		Now:         func() time.Time { return fixedNow },
	}).(*sepGateway)
	return gw, repo, alerter
}

func verifyBody(pan, straceDate string, amount string) string {
	return `{
		"Success": true,
		"ResultCode": 0,
		"TransactionDetail": {
			"MaskedPan": "` + pan + `",
			"StraceDate": "` + straceDate + `",
			"AffectiveAmount": ` + amount + `
		}
	}`
}

func TestSepGateway_PayableAmount(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	assert.Equal(t, int64((500_000+120)*10), gw.PayableAmount(500_000))
	assert.Equal(t, int64((50_000_000+4000)*10), gw.PayableAmount(50_000_000))
}

func TestSepGateway_RequestPayment(t *testing.T) {
	gw, _, alerter := newTestGateway(t)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, "POST", req.Method)
			assert.Equal(t, "https://sep.shaparak.ir/onlinepg/onlinepg", req.URL.String())

			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "token", body["action"])
			assert.Equal(t, "T-1", body["TerminalId"])
			assert.Equal(t, float64((500_000+120)*10), body["Amount"])
			assert.Equal(t, "42", body["ResNum"])
			assert.Equal(t, "https://shop.example/payment/callback", body["RedirectUrl"])
			assert.Equal(t, "09121234567", body["CellNumber"])

			return jsonResponse(http.StatusOK, `{"status": 1, "token": "tok-1"}`)
		})

		token, ok := gw.RequestPayment(ctx, "42", 500_000, "9121234567")
		assert.True(t, ok)
		assert.Equal(t, "tok-1", token)
	})

	t.Run("MobileWithLeadingZero", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "09121234567", body["CellNumber"])
			return jsonResponse(http.StatusOK, `{"status": 1, "token": "tok-3"}`)
		})

		_, ok := gw.RequestPayment(ctx, "42", 1000, "09121234567")
		assert.True(t, ok)
	})

	t.Run("NoMobile", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			_, has := body["CellNumber"]
			assert.False(t, has)
			return jsonResponse(http.StatusOK, `{"status": 1, "token": "tok-2"}`)
		})

		token, ok := gw.RequestPayment(ctx, "42", 1000, "")
		assert.True(t, ok)
		assert.Equal(t, "tok-2", token)
	})

	failures := map[string]http.RoundTripper{
		"NetworkError": MockRoundTripperWithError(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
		"HTTPError": MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusBadGateway, `oops`)
		}),
		"InvalidJSON": MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{invalid-json`)
		}),
		"MissingStatus": MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"token": "tok"}`)
		}),
		"StatusNotOne": MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"status": -1, "errorDesc": "bad terminal"}`)
		}),
		"MissingToken": MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"status": 1}`)
		}),
	}

	for name, rt := range failures {
		t.Run(name, func(t *testing.T) {
			before := alerter.n.Load()
			gw.httpClient.Transport = rt

			token, ok := gw.RequestPayment(ctx, "42", 1000, "")
			assert.False(t, ok)
			assert.Empty(t, token)
			assert.Equal(t, before+1, alerter.n.Load())
		})
	}
}

func TestSepGateway_PaymentURL(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	assert.Equal(t, "https://sep.shaparak.ir/OnlinePG/SendToken?token=abc%2B1", gw.PaymentURL("abc+1"))
}

func TestSepGateway_IsPaymentVerifiable(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	ctx := context.Background()

	const full = "6037991234567890"
	sum := sha256.Sum256([]byte(full))
	hash := hex.EncodeToString(sum[:])

	t.Run("StateNotOK", func(t *testing.T) {
		cb := map[string]string{"State": "NOK", "SecurePan": "garbage", "HashedCardNumber": "zz"}
		assert.Equal(t, StatusPaymentFailed, gw.IsPaymentVerifiable(ctx, cb, []string{full}))
		assert.Equal(t, StatusPaymentFailed, gw.IsPaymentVerifiable(ctx, map[string]string{"State": "NOK"}, nil))
	})

	t.Run("MissingState", func(t *testing.T) {
		assert.Equal(t, StatusUnknown, gw.IsPaymentVerifiable(ctx, map[string]string{}, nil))
	})

	t.Run("OKWithoutAllowlist", func(t *testing.T) {
		assert.Equal(t, StatusOK, gw.IsPaymentVerifiable(ctx, map[string]string{"State": "OK"}, nil))
	})

	t.Run("MissingCardFields", func(t *testing.T) {
		cb := map[string]string{"State": "OK", "SecurePan": "603799******7890"}
		assert.Equal(t, StatusUnknown, gw.IsPaymentVerifiable(ctx, cb, []string{full}))
	})

	t.Run("AuthorizedCard", func(t *testing.T) {
		cb := map[string]string{"State": "OK", "SecurePan": "603799******7890", "HashedCardNumber": hash}
		assert.Equal(t, StatusOK, gw.IsPaymentVerifiable(ctx, cb, []string{full}))
	})

	t.Run("UnauthorizedCard", func(t *testing.T) {
		cb := map[string]string{"State": "OK", "SecurePan": "603799******7890", "HashedCardNumber": hash}
		assert.Equal(t, StatusUnauthorizedCard, gw.IsPaymentVerifiable(ctx, cb, []string{"6037990000007890"}))
	})
}

func TestSepGateway_VerifyPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gw, repo, _ := newTestGateway(t)
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			assert.Equal(t, "https://sep.shaparak.ir/verifyTxnRandomSessionkey/ipg/VerifyTransaction", req.URL.String())

			var body map[string]string
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "T-1", body["TerminalNumber"])
			assert.Equal(t, "ref-1", body["RefNum"])

			return jsonResponse(http.StatusOK, verifyBody("603799******7890", "2024-03-01 13:20:00", "5001200"))
		})

		res, ok := gw.VerifyPayment(ctx, "ref-1")
		require.True(t, ok)
		assert.Equal(t, int64(5001200), res.PaidAmount)
		assert.Equal(t, "603799", res.Card.FirstDigits)
		assert.Equal(t, "7890", res.Card.LastDigits)

		rec, stored := repo.records["ref-1"]
		require.True(t, stored)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 50, 0, 0, time.UTC), rec.PaymentDate)
	})

	t.Run("SecondCallRefused", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)
		var calls atomic.Int32
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			calls.Add(1)
			return jsonResponse(http.StatusOK, verifyBody("603799******7890", "2024-03-01 13:20:00", "1000"))
		})

		_, ok := gw.VerifyPayment(ctx, "ref-1")
		assert.True(t, ok)

		res, ok := gw.VerifyPayment(ctx, "ref-1")
		assert.False(t, ok)
		assert.Nil(t, res)
		assert.Equal(t, int32(1), calls.Load(), "duplicate must not reach the gateway")
	})

	t.Run("ConcurrentVerifySucceedsOnce", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, verifyBody("603799******7890", "2024-03-01 13:20:00", "1000"))
		})

		const workers = 8
		var wg sync.WaitGroup
		var successes atomic.Int32
		start := make(chan struct{})

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, ok := gw.VerifyPayment(ctx, "ref-race"); ok {
					successes.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load())
	})

	t.Run("StaleTransaction", func(t *testing.T) {
		gw, repo, _ := newTestGateway(t)
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			// 1h0m1s before fixedNow
			return jsonResponse(http.StatusOK, verifyBody("603799******7890", "2024-03-01 12:29:59", "1000"))
		})

		res, ok := gw.VerifyPayment(ctx, "ref-stale")
		assert.False(t, ok)
		assert.Nil(t, res)
		assert.Empty(t, repo.records, "stale transactions must not be recorded")
	})

	t.Run("ExactlyOneHourIsFresh", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, verifyBody("603799******7890", "2024-03-01 12:30:00", "1000"))
		})

		_, ok := gw.VerifyPayment(ctx, "ref-edge")
		assert.True(t, ok)
	})

	t.Run("SaveFailure", func(t *testing.T) {
		gw, repo, _ := newTestGateway(t)
		rec := &outcomeRecorder{}
		gw.metrics = rec
		repo.saveErr = errors.New("db down")
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, verifyBody("603799******7890", "2024-03-01 13:20:00", "1000"))
		})

		_, ok := gw.VerifyPayment(ctx, "ref-1")
		assert.False(t, ok)
		assert.Equal(t, []string{"store_error"}, rec.outcomes)
	})

	t.Run("SaveLosesRace", func(t *testing.T) {
		gw, repo, _ := newTestGateway(t)
		rec := &outcomeRecorder{}
		gw.metrics = rec
		repo.saveErr = fmt.Errorf("insert ref-1: %w", ErrDuplicateVerification)
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, verifyBody("603799******7890", "2024-03-01 13:20:00", "1000"))
		})

		_, ok := gw.VerifyPayment(ctx, "ref-1")
		assert.False(t, ok)
		assert.Equal(t, []string{"duplicate"}, rec.outcomes)
	})

	t.Run("ExistsFailure", func(t *testing.T) {
		gw, repo, _ := newTestGateway(t)
		repo.existErr = errors.New("db down")
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			t.Fatal("gateway must not be called")
			return nil
		})

		_, ok := gw.VerifyPayment(ctx, "ref-1")
		assert.False(t, ok)
	})

	rejections := map[string]string{
		"GatewayFailure":     `{"Success": false, "ResultCode": -2}`,
		"NonZeroResultCode":  `{"Success": true, "ResultCode": 5}`,
		"MissingResultCode":  `{"Success": true}`,
		"MissingDetail":      `{"Success": true, "ResultCode": 0}`,
		"InvalidJSON":        `<html>`,
		"ShortPan":           verifyBody("603799***7890", "2024-03-01 13:20:00", "1000"),
		"BadDate":            verifyBody("603799******7890", "01/03/2024", "1000"),
		"NonNumericDigits":   verifyBody("60379X******7890", "2024-03-01 13:20:00", "1000"),
		"FractionalAmount":   verifyBody("603799******7890", "2024-03-01 13:20:00", "10.5"),
		"StringAmount":       verifyBody("603799******7890", "2024-03-01 13:20:00", `"1000"`),
		"NullAmount":         verifyBody("603799******7890", "2024-03-01 13:20:00", "null"),
	}

	for name, body := range rejections {
		t.Run(name, func(t *testing.T) {
			gw, _, _ := newTestGateway(t)
			gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
				return jsonResponse(http.StatusOK, body)
			})

			res, ok := gw.VerifyPayment(ctx, "ref-x")
			assert.False(t, ok)
			assert.Nil(t, res)
		})
	}

	t.Run("HTTPError", func(t *testing.T) {
		gw, _, alerter := newTestGateway(t)
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusInternalServerError, ``)
		})

		_, ok := gw.VerifyPayment(ctx, "ref-x")
		assert.False(t, ok)
		assert.Equal(t, int32(1), alerter.n.Load())
	})

	t.Run("NetworkError", func(t *testing.T) {
		gw, repo, _ := newTestGateway(t)
		gw.httpClient.Transport = MockRoundTripperWithError(func(req *http.Request) (*http.Response, error) {
			return nil, context.DeadlineExceeded
		})

		_, ok := gw.VerifyPayment(ctx, "ref-x")
		assert.False(t, ok)
		assert.Empty(t, repo.records)
	})
}

func TestSepGateway_InquiryPayment(t *testing.T) {
	ctx := context.Background()
	gw, repo, _ := newTestGateway(t)

	t.Run("Success", func(t *testing.T) {
		body := verifyBody("603799******7890", "2024-03-01 13:20:00", "1000")
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, body)
		})

		res := gw.InquiryPayment(ctx, "ref-1")
		assert.Nil(t, res.Error)
		assert.JSONEq(t, body, string(res.Response))
		assert.Empty(t, repo.records, "inquiry has no idempotency side effects")
	})

	t.Run("ConnectionError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripperWithError(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("no route to host")
		})

		res := gw.InquiryPayment(ctx, "ref-1")
		require.NotNil(t, res.Error)
		assert.Equal(t, InquiryConnectionError, res.Error.Kind)
		assert.Contains(t, res.Error.Message, "no route to host")
	})

	t.Run("HTTPError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusForbidden, `forbidden`)
		})

		res := gw.InquiryPayment(ctx, "ref-1")
		require.NotNil(t, res.Error)
		assert.Equal(t, InquiryHTTPError, res.Error.Kind)
		assert.Equal(t, "forbidden", res.Error.RawResult)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(req *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `not json`)
		})

		res := gw.InquiryPayment(ctx, "ref-1")
		require.NotNil(t, res.Error)
		assert.Equal(t, InquiryInvalidJSON, res.Error.Kind)
		assert.Equal(t, "not json", res.Error.RawResult)
	})
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.String())
	assert.Equal(t, "UNKNOWN", StatusUnknown.String())
	assert.Equal(t, "PAYMENT_FAILED", StatusPaymentFailed.String())
	assert.Equal(t, "UNAUTHORIZED_CARD", StatusUnauthorizedCard.String())
	assert.Equal(t, "INVALID", Status(99).String())
}
