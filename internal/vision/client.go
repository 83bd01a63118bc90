// Package vision extracts structured label fields from beverage images
// via the Cloudflare Workers AI LLaVA model.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"

	"github.com/labelproof/labelproof/pkg/models"
)

const (
	defaultBaseURL = "https://api.cloudflare.com/client/v4"
	modelPath      = "/ai/run/@cf/llava-hf/llava-1.5-7b-hf"

	// Images above either limit are downscaled before upload.
	maxDimensionPx = 1024
	maxEncodedSize = 800_000

	jpegQuality = 85
	maxTokens   = 512

	requestTimeout = 30 * time.Second
)

// prompt pins the model to the exact JSON shape the parser expects.
const prompt = "Analyze this beverage label image and extract the following fields as JSON: " +
	"brand_name, class_type (e.g. Wine, Distilled Spirits, Malt Beverage), " +
	"abv (alcohol by volume as a number), net_contents, " +
	"country_of_origin, government_warning. " +
	"Return ONLY valid JSON with these exact field names."

// Kind classifies extraction failures.
type Kind string

const (
	KindHTTP            Kind = "http"
	KindAPI             Kind = "api"
	KindImageProcessing Kind = "image_processing"
	KindParse           Kind = "parse"
)

// Error is a classified extraction failure. All kinds are treated as
// transient by the worker's retry policy.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("vision %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Client calls the Workers AI inference endpoint.
type Client struct {
	http      *http.Client
	baseURL   string
	accountID string
	apiToken  string
}

// New builds a vision client for the given Cloudflare account.
func New(accountID, apiToken string) *Client {
	return &Client{
		http:      &http.Client{Timeout: requestTimeout},
		baseURL:   defaultBaseURL,
		accountID: accountID,
		apiToken:  apiToken,
	}
}

// NewWithBaseURL overrides the API host; used by tests.
func NewWithBaseURL(baseURL, accountID, apiToken string) *Client {
	c := New(accountID, apiToken)
	c.baseURL = baseURL
	return c
}

type inferenceRequest struct {
	Image     string `json:"image"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type inferenceResponse struct {
	Result  *inferenceResult `json:"result"`
	Success bool             `json:"success"`
	Errors  []apiError       `json:"errors"`
}

type inferenceResult struct {
	Description string `json:"description"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Extract sends a label image through the model and parses the reply
// into structured fields.
func (c *Client) Extract(ctx context.Context, imageBytes []byte) (models.ExtractedLabelFields, error) {
	var fields models.ExtractedLabelFields

	prepared, err := prepareImage(imageBytes)
	if err != nil {
		return fields, wrap(KindImageProcessing, err)
	}

	body, err := json.Marshal(inferenceRequest{
		Image:     base64.StdEncoding.EncodeToString(prepared),
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return fields, wrap(KindParse, err)
	}

	url := fmt.Sprintf("%s/accounts/%s%s", c.baseURL, c.accountID, modelPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fields, wrap(KindHTTP, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fields, wrap(KindHTTP, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fields, wrap(KindAPI, fmt.Errorf("workers ai returned HTTP %d", resp.StatusCode))
	}

	var envelope inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fields, wrap(KindParse, err)
	}
	if !envelope.Success || envelope.Result == nil {
		msg := "inference unsuccessful"
		if len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Message
		}
		return fields, wrap(KindAPI, fmt.Errorf("workers ai: %s", msg))
	}

	fields, err = parseDescription(envelope.Result.Description)
	if err != nil {
		return fields, wrap(KindParse, err)
	}
	return fields, nil
}

// prepareImage downscales oversized images so the longest side is
// exactly 1024 px, re-encoding as JPEG. Small images pass through
// untouched.
func prepareImage(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	longest := cfg.Width
	if cfg.Height > longest {
		longest = cfg.Height
	}
	if longest <= maxDimensionPx && len(data) < maxEncodedSize {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	ratio := float64(maxDimensionPx) / float64(longest)
	width, height := maxDimensionPx, maxDimensionPx
	if cfg.Width >= cfg.Height {
		height = int(float64(cfg.Height) * ratio)
	} else {
		width = int(float64(cfg.Width) * ratio)
	}

	resized := imaging.Resize(img, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}

	log.Debug().
		Int("original_bytes", len(data)).
		Int("resized_bytes", buf.Len()).
		Int("width", width).
		Int("height", height).
		Msg("resized label image for inference")

	return buf.Bytes(), nil
}

// lenientFields mirrors ExtractedLabelFields but tolerates abv arriving
// as a string like "13.5%".
type lenientFields struct {
	BrandName         *string `json:"brand_name"`
	ClassType         *string `json:"class_type"`
	ABV               any     `json:"abv"`
	NetContents       *string `json:"net_contents"`
	CountryOfOrigin   *string `json:"country_of_origin"`
	GovernmentWarning *string `json:"government_warning"`
}

// parseDescription repairs the model's JSON reply and converts it into
// structured fields. Models escape underscores in markdown mode, so
// literal `\_` sequences are unescaped first.
func parseDescription(description string) (models.ExtractedLabelFields, error) {
	var fields models.ExtractedLabelFields

	cleaned := strings.TrimSpace(strings.ReplaceAll(description, `\_`, `_`))

	var lenient lenientFields
	if err := json.Unmarshal([]byte(cleaned), &lenient); err != nil {
		return fields, fmt.Errorf("parse description: %w", err)
	}
	if lenient.BrandName == nil || lenient.ClassType == nil || lenient.NetContents == nil {
		return fields, fmt.Errorf("description missing required fields")
	}

	fields.BrandName = *lenient.BrandName
	fields.ClassType = *lenient.ClassType
	fields.NetContents = *lenient.NetContents
	fields.CountryOfOrigin = lenient.CountryOfOrigin
	fields.GovernmentWarning = lenient.GovernmentWarning
	fields.ABV = parseABV(lenient.ABV)
	return fields, nil
}

// parseABV accepts a number or a string like "13.5 %". Unparseable
// values become 0.0 so the verification layer flags the field absent.
func parseABV(v any) float64 {
	switch abv := v.(type) {
	case float64:
		return abv
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(abv), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}
