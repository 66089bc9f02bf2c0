// Package addressverify submits shipping addresses to the international address verification API.
package addressverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/observability"
	"github.com/podshop/api/internal/platform/upstream"
)

const (
	serviceName      = "address_verification"
	apiKeyHeader     = "x-api-key"
	verificationPath = "/intl_addver/verifications"
)

var (
	// ErrInvalid indicates the verification service rejected the address outright.
	ErrInvalid = errors.New("addressverify: address rejected")
	// ErrUnverifiable indicates the address was processed but not sufficiently verified.
	ErrUnverifiable = errors.New("addressverify: address could not be verified")
	// ErrUnavailable indicates the verification service could not be reached or failed.
	ErrUnavailable = errors.New("addressverify: service unavailable")
)

// Config holds the verification API coordinates.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Validator validates raw addresses with exactly one upstream round trip per call.
type Validator struct {
	api    *upstream.Client
	logger *zap.Logger
}

// Option customises the Validator.
type Option func(*upstream.Config)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *upstream.Config) {
		cfg.HTTPClient = client
	}
}

// WithLogger sets the validator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *upstream.Config) {
		cfg.Logger = logger
	}
}

// WithMetrics records upstream latency.
func WithMetrics(metrics *observability.UpstreamMetrics) Option {
	return func(cfg *upstream.Config) {
		cfg.Metrics = metrics
	}
}

// New constructs a Validator.
func New(cfg Config, opts ...Option) (*Validator, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("addressverify: api key is required")
	}
	upCfg := upstream.Config{
		Service: serviceName,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{apiKeyHeader: key},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&upCfg)
		}
	}
	api, err := upstream.New(upCfg)
	if err != nil {
		return nil, err
	}
	logger := upCfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{api: api, logger: logger}, nil
}

type verificationRequest struct {
	Address verificationAddress `json:"address"`
}

type verificationAddress struct {
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city,omitempty"`
	PostalOrZip string `json:"postalOrZip,omitempty"`
	Country     string `json:"country"`
}

type verificationResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Data    verificationData `json:"data"`
}

type verificationData struct {
	Line1           string          `json:"line1"`
	Line2           string          `json:"line2"`
	City            string          `json:"city"`
	PostalOrZip     string          `json:"postalOrZip"`
	ProvinceOrState string          `json:"provinceOrState"`
	Country         string          `json:"country"`
	Summary         summary         `json:"summary"`
	Error           json.RawMessage `json:"error"`
}

type summary struct {
	VerificationStatus string `json:"verificationStatus"`
}

// Validate submits raw to the verification service.
// On ErrUnverifiable the normalized address is still returned for diagnostics.
func (v *Validator) Validate(ctx context.Context, raw domain.RawAddress) (domain.NormalizedAddress, error) {
	req := verificationRequest{Address: verificationAddress{
		Line1:       strings.TrimSpace(raw.Address1),
		Line2:       strings.TrimSpace(raw.Address2),
		City:        strings.TrimSpace(raw.City),
		PostalOrZip: strings.TrimSpace(raw.Zip),
		Country:     strings.ToUpper(strings.TrimSpace(raw.CountryCode)),
	}}
	if req.Address.Line1 == "" || req.Address.Country == "" {
		return domain.NormalizedAddress{}, fmt.Errorf("%w: line1 and country are required", ErrInvalid)
	}

	var resp verificationResponse
	if err := v.api.DoJSON(ctx, "verify", http.MethodPost, verificationPath, nil, req, &resp); err != nil {
		return domain.NormalizedAddress{}, classify(err)
	}

	if hasError(resp.Data.Error) {
		return domain.NormalizedAddress{}, fmt.Errorf("%w: %s", ErrInvalid, errorMessage(resp.Data.Error))
	}
	if strings.EqualFold(resp.Status, "error") {
		return domain.NormalizedAddress{}, fmt.Errorf("%w: %s", ErrInvalid, resp.Message)
	}

	normalized := domain.NormalizedAddress{
		Line1:           firstNonEmpty(resp.Data.Line1, req.Address.Line1),
		Line2:           firstNonEmpty(resp.Data.Line2, req.Address.Line2),
		City:            firstNonEmpty(resp.Data.City, req.Address.City),
		PostalOrZip:     firstNonEmpty(resp.Data.PostalOrZip, req.Address.PostalOrZip),
		Country:         strings.ToUpper(firstNonEmpty(resp.Data.Country, req.Address.Country)),
		ProvinceOrState: strings.TrimSpace(resp.Data.ProvinceOrState),
		Status:          parseStatus(resp.Data.Summary.VerificationStatus),
	}

	if !normalized.Status.Deliverable() {
		v.logger.Info("addressverify: address not deliverable",
			zap.String("country", normalized.Country),
			zap.String("upstream_status", resp.Data.Summary.VerificationStatus),
		)
		return normalized, fmt.Errorf("%w: status %q", ErrUnverifiable, resp.Data.Summary.VerificationStatus)
	}
	return normalized, nil
}

func parseStatus(raw string) domain.VerificationStatus {
	switch domain.VerificationStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.VerificationVerified:
		return domain.VerificationVerified
	case domain.VerificationPartiallyVerified:
		return domain.VerificationPartiallyVerified
	default:
		return domain.VerificationFailed
	}
}

// classify maps transport outcomes onto validator error kinds. 400 and 422 mean the
// address itself was refused; other statuses are service problems.
func classify(err error) error {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func hasError(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null" && trimmed != `""` && trimmed != "false"
}

func errorMessage(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
