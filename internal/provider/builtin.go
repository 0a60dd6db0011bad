package provider

import (
	"strings"
	"time"

	"github.com/maauso/mediagen-api/internal/extract"
)

// Default endpoints for vendors with a fixed public API.
const (
	KlingBaseURL      = "https://api.klingai.com"
	BeamTaskStatusURL = "https://api.beam.cloud/v2/task/{id}/"
)

// BuiltinConfig carries the endpoints of the built-in profiles.
// An empty base URL leaves the matching profiles unconfigured.
type BuiltinConfig struct {
	VideoBaseURL string
	ImageBaseURL string
	KlingBaseURL string
	BeamQueueURL string
	// RunPodEndpointURL is the serverless endpoint root,
	// e.g. https://api.runpod.ai/v2/<endpoint-id>.
	RunPodEndpointURL string
}

// Built-in model ids.
const (
	ModelSora2            = "sora-2"
	ModelVeo3             = "veo-3"
	ModelFluxImage        = "flux-image"
	ModelStyleTransfer    = "style-transfer"
	ModelKlingV1          = "kling-v1"
	ModelBeamInfiniteTalk = "beam-infinitetalk"
	ModelRunPodTalk       = "runpod-infinitetalk"
)

// videoTextRules scan free-text replies from chat-style video vendors,
// phrase-anchored patterns first.
func videoTextRules() []extract.Rule {
	return []extract.Rule{
		extract.NewRule(`(?i)high-quality video generated:\s*(https?://\S+)`, 1),
		extract.NewRule(`(?i)video (?:url|link):\s*(https?://\S+)`, 1),
		extract.NewRule(`\((https?://[^\s)]+\.(?:mp4|webm|mov)[^\s)]*)\)`, 1),
		extract.NewRule(`https?://[^\s"'<>]+\.(?:mp4|webm|mov)(?:\?[^\s"'<>]*)?`, 0),
	}
}

func imageTextRules() []extract.Rule {
	return []extract.Rule{
		extract.NewRule(`!\[[^\]]*\]\((https?://[^\s)]+)\)`, 1),
		extract.NewRule(`https?://[^\s"'<>]+\.(?:png|jpe?g|webp|gif)(?:\?[^\s"'<>]*)?`, 0),
	}
}

// Builtin returns the profiles shipped with the service. They cover the three
// provider shapes in use: results returned inline at submission
// (flux-image), results behind a status URL (sora-2, veo-3, kling-v1,
// beam-infinitetalk, runpod-infinitetalk) and image upload before submission
// (style-transfer).
func Builtin(cfg BuiltinConfig) []Profile {
	video := strings.TrimRight(cfg.VideoBaseURL, "/")
	image := strings.TrimRight(cfg.ImageBaseURL, "/")
	kling := strings.TrimRight(cfg.KlingBaseURL, "/")
	runpod := strings.TrimRight(cfg.RunPodEndpointURL, "/")
	if kling == "" {
		kling = KlingBaseURL
	}

	videoRules := extract.Rules{
		StatusFields:    []string{"status", "data.status", "state"},
		FailureValues:   []string{"failed", "error"},
		ErrorFields:     []string{"error.message", "error", "message", "data.error"},
		ResultFields:    []string{"videoURL", "video_url", "url", "result.url", "output.video_url", "data.video_url"},
		StatusURLFields: []string{"links.source", "source", "status_url", "data.links.source"},
		TaskIDFields:    []string{"id", "task_id", "data.id"},
		TextFields:      []string{"choices.0.message.content", "content", "text"},
		TextRules:       videoTextRules(),
		CostFields:      []string{"cost", "usage.cost"},
		WidthFields:     []string{"width", "output.width"},
		HeightFields:    []string{"height", "output.height"},
	}

	imageRules := extract.Rules{
		StatusFields:    []string{"status"},
		FailureValues:   []string{"failed", "error"},
		ErrorFields:     []string{"error.message", "error", "message"},
		ResultFields:    []string{"data.0.url", "images.0.url", "output", "url", "result.sample"},
		StatusURLFields: []string{"polling_url", "urls.get", "status_url"},
		TaskIDFields:    []string{"id", "task_id"},
		TextRules:       imageTextRules(),
		CostFields:      []string{"cost", "usage.cost"},
		WidthFields:     []string{"data.0.width", "images.0.width", "width"},
		HeightFields:    []string{"data.0.height", "images.0.height", "height"},
	}

	styleRules := imageRules.Clone()
	styleRules.ResultFields = append(styleRules.ResultFields, "imageURL")

	return []Profile{
		{
			ID:     ModelSora2,
			Kind:   KindVideo,
			Submit: Endpoint{URL: joinURL(video, "/v1/video/generations")},
			Auth:   AuthSpec{Scheme: AuthBearer, Credential: CredVideoAPIKey},
			Body: BodySpec{
				Model:         "sora-2",
				SizeField:     "size",
				DurationField: "seconds",
				ImagesField:   "input_reference",
				SingleImage:   true,
			},
			Rules: videoRules,
			Poll: PollPolicy{
				Interval:      3 * time.Second,
				BackoffFactor: 1.1,
				MaxInterval:   5 * time.Second,
				MaxAttempts:   180,
			},
		},
		{
			ID:     ModelVeo3,
			Kind:   KindVideo,
			Submit: Endpoint{URL: joinURL(video, "/v1/video/generations")},
			Auth:   AuthSpec{Scheme: AuthBearer, Credential: CredVideoAPIKey},
			Body: BodySpec{
				Model:            "veo-3",
				AspectRatioField: "aspect_ratio",
				DurationField:    "duration",
				ImagesField:      "images",
			},
			Rules: videoRules.Clone(),
			Poll: PollPolicy{
				Interval:      5 * time.Second,
				BackoffFactor: 1.0,
				MaxInterval:   5 * time.Second,
				MaxAttempts:   240,
			},
		},
		{
			ID:     ModelFluxImage,
			Kind:   KindImage,
			Submit: Endpoint{URL: joinURL(image, "/v1/images/generations")},
			Auth:   AuthSpec{Scheme: AuthBearer, Credential: CredImageAPIKey},
			Body: BodySpec{
				Model:       "flux-1.1-pro",
				WidthField:  "width",
				HeightField: "height",
				ImagesField: "image_prompt",
				SingleImage: true,
			},
			Rules: imageRules,
			Poll: PollPolicy{
				Interval:      2 * time.Second,
				BackoffFactor: 1.2,
				MaxInterval:   5 * time.Second,
				MaxAttempts:   120,
			},
		},
		{
			ID:     ModelStyleTransfer,
			Kind:   KindImage,
			Submit: Endpoint{URL: joinURL(image, "/v1/images/style-transfer")},
			Upload: &UploadSpec{
				Endpoint:     Endpoint{URL: joinURL(image, "/v1/uploads")},
				Encoding:     UploadJSON,
				Field:        "image",
				HandleFields: []string{"imageUUID", "uuid", "id", "url", "data.url"},
			},
			Auth: AuthSpec{Scheme: AuthBearer, Credential: CredImageAPIKey},
			Body: BodySpec{
				Model:       "style-transfer-v1",
				WidthField:  "width",
				HeightField: "height",
				ImagesField: "reference_images",
			},
			Rules: styleRules,
			Poll: PollPolicy{
				Interval:      2 * time.Second,
				BackoffFactor: 1.2,
				MaxInterval:   5 * time.Second,
				MaxAttempts:   120,
			},
		},
		{
			ID:     ModelKlingV1,
			Kind:   KindVideo,
			Submit: Endpoint{URL: kling + "/v1/videos/text2video"},
			Auth: AuthSpec{
				Scheme:           AuthKlingJWT,
				Credential:       CredKlingAccessKey,
				SecretCredential: CredKlingSecretKey,
			},
			Body: BodySpec{
				Model:            "kling-v1",
				ModelField:       "model_name",
				AspectRatioField: "aspect_ratio",
				DurationField:    "duration",
				DurationAsString: true,
				Static:           map[string]any{"mode": "std"},
			},
			Rules: extract.Rules{
				StatusFields:      []string{"data.task_status"},
				FailureValues:     []string{"failed"},
				SuccessValues:     []string{"succeed"},
				ErrorFields:       []string{"data.task_status_msg", "message"},
				ResultFields:      []string{"data.task_result.videos.0.url"},
				StatusURLTemplate: kling + "/v1/videos/text2video/{id}",
				TaskIDFields:      []string{"data.task_id"},
			},
			Poll: PollPolicy{
				Interval:      5 * time.Second,
				BackoffFactor: 1.0,
				MaxInterval:   5 * time.Second,
				MaxAttempts:   144,
			},
		},
		{
			ID:     ModelBeamInfiniteTalk,
			Kind:   KindVideo,
			Submit: Endpoint{URL: cfg.BeamQueueURL},
			Auth:   AuthSpec{Scheme: AuthBearer, Credential: CredBeamToken},
			Body: BodySpec{
				WidthField:    "width",
				HeightField:   "height",
				ImagesField:   "image_base64",
				SingleImage:   true,
				ImageEncoding: ImageBase64,
			},
			Rules: extract.Rules{
				StatusFields:      []string{"status"},
				FailureValues:     []string{"FAILED", "ERROR", "CANCELED"},
				SuccessValues:     []string{"COMPLETED", "COMPLETE"},
				ErrorFields:       []string{"error"},
				ResultFields:      []string{"outputs.0.url"},
				StatusURLTemplate: BeamTaskStatusURL,
				TaskIDFields:      []string{"task_id", "id"},
			},
			Poll: PollPolicy{
				Interval:      5 * time.Second,
				BackoffFactor: 1.0,
				MaxInterval:   5 * time.Second,
				MaxAttempts:   240,
			},
		},
		{
			ID:     ModelRunPodTalk,
			Kind:   KindVideo,
			Submit: Endpoint{URL: joinURL(runpod, "/run")},
			Auth:   AuthSpec{Scheme: AuthBearer, Credential: CredRunPodAPIKey},
			Body: BodySpec{
				WidthField:    "width",
				HeightField:   "height",
				ImagesField:   "image_base64",
				SingleImage:   true,
				ImageEncoding: ImageBase64,
				Wrap:          "input",
				Static:        map[string]any{"input_type": "image", "person_count": "single"},
			},
			Rules: extract.Rules{
				StatusFields:      []string{"status"},
				FailureValues:     []string{"FAILED", "CANCELLED", "TIMED_OUT"},
				SuccessValues:     []string{"COMPLETED"},
				ErrorFields:       []string{"error"},
				ResultFields:      []string{"output.video_url", "output.url", "output.video"},
				StatusURLTemplate: joinURL(runpod, "/status/{id}"),
				TaskIDFields:      []string{"id"},
			},
			Poll: PollPolicy{
				Interval:      5 * time.Second,
				BackoffFactor: 1.0,
				MaxInterval:   5 * time.Second,
				MaxAttempts:   240,
			},
		},
	}
}

func joinURL(base, path string) string {
	if base == "" {
		return ""
	}
	return base + path
}
