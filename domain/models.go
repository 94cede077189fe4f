package domain

import (
	"encoding/json"
	"strings"
)

// ImageRef identifies the source image of a piece of evidence.
type ImageRef string

// RecognitionRequestedMessage is consumed from the input queue.
type RecognitionRequestedMessage struct {
	ObjectKey     string   `json:"objectKey"`
	CorrelationID string   `json:"correlationId,omitempty"`
	ImageURLs     []string `json:"imageUrls,omitempty"`
}

// RecognitionCompletedMessage is published to the output queue.
type RecognitionCompletedMessage struct {
	CorrelationID string           `json:"correlationId"`
	ObjectKey     string           `json:"objectKey,omitempty"`
	Provider      AIProvider       `json:"provider"`
	Aggregate     MachineAggregate `json:"aggregate"`
	Name          string           `json:"name,omitempty"`
}

type WebEntityHit struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type LogoHit struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type ObjectHit struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Evidence holds the signals extracted from one image's annotation document.
type Evidence struct {
	WebBestGuess   string         `json:"webBestGuess,omitempty"`
	Logo           string         `json:"logo,omitempty"`
	LogoScore      float64        `json:"logoScore"`
	OCRSample      string         `json:"ocrSample,omitempty"`
	WebEntities    []WebEntityHit `json:"webEntities"`
	LogoCandidates []LogoHit      `json:"logoCandidates"`
	Objects        []ObjectHit    `json:"objects"`
}

// MachineSummary is the per-image verdict. Model is never set at this stage.
type MachineSummary struct {
	Type        string  `json:"type,omitempty"`
	Brand       string  `json:"brand,omitempty"`
	Model       string  `json:"model,omitempty"`
	Confidence  float64 `json:"confidence"`
	IsConfident bool    `json:"isConfident"`
}

type ShapedResult struct {
	ImageRef ImageRef       `json:"imageRef"`
	Summary  MachineSummary `json:"machine"`
	Evidence Evidence       `json:"evidence"`
}

// MachineAggregate is the cross-image identity for one request. Empty strings
// stand for "unknown"; TypeConfidence is nil when no type was found or the
// type came from the best-guess label.
type MachineAggregate struct {
	Brand          string   `json:"brand,omitempty"`
	MachineType    string   `json:"machineType,omitempty"`
	Model          string   `json:"model,omitempty"`
	Weight         *float64 `json:"weight,omitempty"`
	Year           string   `json:"year,omitempty"`
	Attachment     []string `json:"attachment,omitempty"`
	Confidence     float64  `json:"confidence"`
	IsConfident    bool     `json:"isConfident"`
	TypeConfidence *float64 `json:"typeConfidence"`
	TypeSource     string   `json:"typeSource,omitempty"`
}

// Name joins the known brand, type and model for display.
func (a MachineAggregate) Name() string {
	var parts []string
	for _, s := range []string{a.Brand, a.MachineType, a.Model} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// ProviderResult is one image's raw annotation document as the provider returned it.
type ProviderResult struct {
	ImageRef ImageRef        `json:"imageRef"`
	Raw      json.RawMessage `json:"raw"`
}

// AIProvider describes the provider used, for audit.
type AIProvider struct {
	Name           string   `json:"name"`
	APIVersion     string   `json:"apiVersion,omitempty"`
	Featureset     []string `json:"featureset"`
	MaxResults     int      `json:"maxResults,omitempty"`
	ReasoningName  string   `json:"reasoningName,omitempty"`
	ReasoningModel string   `json:"reasoningModel,omitempty"`
}

type InvocationMetrics struct {
	LatencyMs         int64  `json:"latencyMs"`
	ImageCount        int    `json:"imageCount"`
	ProviderRequestID string `json:"providerRequestId,omitempty"`
}

type AnalysisResult struct {
	Provider AIProvider        `json:"provider"`
	Metrics  InvocationMetrics `json:"metrics"`
	Results  []ProviderResult  `json:"results"`
}

// FetchedImage is an image downloaded for analysis.
type FetchedImage struct {
	Ref         ImageRef
	Bytes       []byte
	ContentType string
}

// RecognitionResponse is everything produced for one request.
type RecognitionResponse struct {
	CorrelationID string            `json:"correlationId"`
	ObjectKey     string            `json:"objectKey,omitempty"`
	Provider      AIProvider        `json:"ai"`
	Metrics       InvocationMetrics `json:"metrics"`
	Results       []ProviderResult  `json:"results,omitempty"`
	Compact       []ShapedResult    `json:"compact"`
	Aggregate     MachineAggregate  `json:"aggregate"`
}
