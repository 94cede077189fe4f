package domain

const (
	// Job Statuses
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"

	// Redis Key Patterns
	RedisKeySeen = "recognition:%s:seen"

	// Message Attributes
	AttrCorrelationID = "x-correlation-id"
	AttrSchema        = "x-schema"
	AttrProducer      = "x-producer"

	SchemaRecognitionCompleted = "recognition.completed.v0"
	ProducerName               = "vision-adapter-worker"

	// Type Sources
	TypeSourceWebEntity          = "web_entity"
	TypeSourceObjectLocalization = "object_localization"
	TypeSourceWebBestGuess       = "web_best_guess"

	// Reasoning
	ReasoningStatusRefusal = "refusal"
)

// Vision features, named the way they appear in configuration.
const (
	FeatureLabelDetection        = "LabelDetection"
	FeatureLogoDetection         = "LogoDetection"
	FeatureDocumentTextDetection = "DocumentTextDetection"
	FeatureTextDetection         = "TextDetection"
	FeatureObjectLocalization    = "ObjectLocalization"
	FeatureWebDetection          = "WebDetection"
)

var featureWireNames = map[string]string{
	FeatureLabelDetection:        "LABEL_DETECTION",
	FeatureLogoDetection:         "LOGO_DETECTION",
	FeatureDocumentTextDetection: "DOCUMENT_TEXT_DETECTION",
	FeatureTextDetection:         "TEXT_DETECTION",
	FeatureObjectLocalization:    "OBJECT_LOCALIZATION",
	FeatureWebDetection:          "WEB_DETECTION",
}

var allowedFeatures = []string{
	FeatureLabelDetection,
	FeatureLogoDetection,
	FeatureDocumentTextDetection,
	FeatureTextDetection,
	FeatureObjectLocalization,
	FeatureWebDetection,
}

var defaultFeatures = []string{
	FeatureLogoDetection,
	FeatureDocumentTextDetection,
	FeatureWebDetection,
}

// FeatureWireName returns the provider request name for a configured feature.
func FeatureWireName(feature string) (string, bool) {
	name, ok := featureWireNames[feature]
	return name, ok
}

// AllowedFeatures returns the features the provider adapter accepts.
func AllowedFeatures() []string {
	return append([]string(nil), allowedFeatures...)
}

// DefaultFeatures is used when no features are configured.
func DefaultFeatures() []string {
	return append([]string(nil), defaultFeatures...)
}
