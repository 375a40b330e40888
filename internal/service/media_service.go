package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"strings"

	"vibesync/internal/config"
	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/remote"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultMaxImageBytes = 10 << 20
	DefaultMaxVideoBytes = 100 << 20
	MasterMaxSize        = 2048
	StoryMaxWidth        = 1080
	StoryMaxHeight       = 1920
	AvatarSize           = 512
	WebPQuality          = 70
)

// MediaPurpose selects how an upload is framed.
type MediaPurpose string

const (
	PurposePost    MediaPurpose = "posts"
	PurposeStory   MediaPurpose = "stories"
	PurposeMessage MediaPurpose = "messages"
	PurposeAvatar  MediaPurpose = "avatars"
)

var allowedRatios = []struct {
	name  string
	ratio float64
}{
	{name: "landscape", ratio: 1.91},
	{name: "square", ratio: 1.0},
	{name: "portrait", ratio: 0.8},
}

// UploadInput is one file received from a client.
type UploadInput struct {
	OwnerID     string
	Filename    string
	ContentType string
	Content     []byte
}

// MediaService normalizes uploads and stores them through an Uploader.
// Images are re-encoded as WebP; videos are stored as received.
type MediaService struct {
	uploader      remote.Uploader
	maxImageBytes int64
	maxVideoBytes int64
}

// NewMediaService returns a MediaService. A nil cfg uses the default limits.
func NewMediaService(uploader remote.Uploader, cfg *config.Config) *MediaService {
	s := &MediaService{
		uploader:      uploader,
		maxImageBytes: DefaultMaxImageBytes,
		maxVideoBytes: DefaultMaxVideoBytes,
	}
	if cfg != nil {
		if cfg.MaxImageBytes > 0 {
			s.maxImageBytes = cfg.MaxImageBytes
		}
		if cfg.MaxVideoBytes > 0 {
			s.maxVideoBytes = cfg.MaxVideoBytes
		}
	}
	return s
}

// Upload validates, normalizes and stores one file. Nothing is written to
// the record store; callers write the returned Media once it succeeds.
func (s *MediaService) Upload(ctx context.Context, purpose MediaPurpose, in UploadInput) (models.Media, error) {
	if len(in.Content) == 0 {
		return models.Media{}, models.NewValidationError("No file uploaded")
	}

	detected := normalizeContentType(http.DetectContentType(in.Content))
	switch {
	case isAllowedImageMIME(detected):
		return s.uploadImage(ctx, purpose, in)
	case isAllowedVideoMIME(detected) || (detected == "application/octet-stream" && isAllowedVideoMIME(in.ContentType)):
		if purpose == PurposeAvatar || purpose == PurposeStory {
			return models.Media{}, models.NewValidationError("Only images are allowed here")
		}
		return s.uploadVideo(ctx, purpose, in)
	default:
		return models.Media{}, models.NewValidationError("Unsupported media type")
	}
}

func (s *MediaService) uploadImage(ctx context.Context, purpose MediaPurpose, in UploadInput) (models.Media, error) {
	if int64(len(in.Content)) > s.maxImageBytes {
		return models.Media{}, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxImageBytes>>20))
	}

	decoded, format, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return models.Media{}, models.NewValidationError("Invalid image file")
	}
	if provided := normalizeContentType(in.ContentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, decodedFormatToMime(format)) {
		return models.Media{}, models.NewValidationError("Image content type mismatch")
	}

	framed := frameImage(decoded, purpose)
	encoded, err := encodeWebP(framed, WebPQuality)
	if err != nil {
		return models.Media{}, models.NewInternalError(fmt.Errorf("encode webp: %w", err))
	}

	url, err := s.put(ctx, encoded, mediaHint(purpose, in.OwnerID, ".webp"))
	if err != nil {
		return models.Media{}, err
	}
	return models.Media{URL: url, Kind: models.MediaImage}, nil
}

func (s *MediaService) uploadVideo(ctx context.Context, purpose MediaPurpose, in UploadInput) (models.Media, error) {
	if int64(len(in.Content)) > s.maxVideoBytes {
		return models.Media{}, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxVideoBytes>>20))
	}
	ext := ".mp4"
	if exts, _ := mime.ExtensionsByType(normalizeContentType(in.ContentType)); len(exts) > 0 {
		ext = exts[0]
	}
	url, err := s.put(ctx, in.Content, mediaHint(purpose, in.OwnerID, ext))
	if err != nil {
		return models.Media{}, err
	}
	return models.Media{URL: url, Kind: models.MediaVideo}, nil
}

func (s *MediaService) put(ctx context.Context, data []byte, hint string) (string, error) {
	fields := map[string]interface{}{"hint": hint, "bytes": len(data)}
	observability.LogAsyncOperationStart(ctx, "media_upload", fields)
	url, err := s.uploader.Upload(ctx, data, hint)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "media_upload", err, fields)
		return "", models.NewWriteError("upload media", err)
	}
	observability.LogAsyncOperationEnd(ctx, "media_upload", fields)
	return url, nil
}

// UploadAll uploads every input in order and stops at the first failure.
func (s *MediaService) UploadAll(ctx context.Context, purpose MediaPurpose, ins []UploadInput) ([]models.Media, error) {
	out := make([]models.Media, 0, len(ins))
	for _, in := range ins {
		m, err := s.Upload(ctx, purpose, in)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func mediaHint(purpose MediaPurpose, ownerID, ext string) string {
	owner := ownerID
	if owner == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("%s/%s/media%s", purpose, owner, ext)
}

func frameImage(src image.Image, purpose MediaPurpose) image.Image {
	b := src.Bounds()
	switch purpose {
	case PurposeAvatar:
		side := min(b.Dx(), b.Dy())
		cropped := cropToRect(src, b.Min.X+(b.Dx()-side)/2, b.Min.Y+(b.Dy()-side)/2, side, side)
		return resizeToFit(cropped, AvatarSize, AvatarSize)
	case PurposeStory:
		return resizeToFit(src, StoryMaxWidth, StoryMaxHeight)
	default:
		_, cropX, cropY, cropW, cropH := selectCropMode(b.Dx(), b.Dy())
		cropped := cropToRect(src, b.Min.X+cropX, b.Min.Y+cropY, cropW, cropH)
		return resizeToFit(cropped, MasterMaxSize, MasterMaxSize)
	}
}

func selectCropMode(w, h int) (mode string, cropX, cropY, cropW, cropH int) {
	if w <= 0 || h <= 0 {
		return "free", 0, 0, w, h
	}
	ratio := float64(w) / float64(h)
	bestMode := "square"
	bestRatio := 1.0
	bestDist := absFloat(ratio - 1.0)
	for _, r := range allowedRatios {
		d := absFloat(ratio - r.ratio)
		if d < bestDist {
			bestDist = d
			bestRatio = r.ratio
			bestMode = r.name
		}
	}

	if ratio > bestRatio {
		cropH = h
		cropW = int(float64(h) * bestRatio)
		cropX = (w - cropW) / 2
		cropY = 0
	} else {
		cropW = w
		cropH = int(float64(w) / bestRatio)
		cropX = 0
		cropY = (h - cropH) / 2
	}
	if cropW < 1 {
		cropW = 1
	}
	if cropH < 1 {
		cropH = 1
	}
	return bestMode, cropX, cropY, cropW, cropH
}

func cropToRect(src image.Image, x, y, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, image.Point{X: x, Y: y}, draw.Src)
	return dst
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scale := min(float64(maxWidth)/float64(w), float64(maxHeight)/float64(h))
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func isAllowedVideoMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "video/mp4", "video/webm", "video/quicktime":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isMatchingContentType(provided, detected string) bool {
	p := normalizeContentType(provided)
	d := normalizeContentType(detected)
	if p == d {
		return true
	}
	return (p == "image/jpg" && d == "image/jpeg") || (p == "image/jpeg" && d == "image/jpg")
}

func decodedFormatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
