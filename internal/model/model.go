// Package model provides data-structs for internal app-usage
package model

import (
	"errors"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
)

// OutputFormat - format requested by the caller for the resulting image
type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatWEBP OutputFormat = "webp"
)

var OutputFormatMap = map[OutputFormat]bool{
	FormatPNG:  true,
	FormatJPEG: true,
	FormatWEBP: true,
}

//---------------------

// Credential carries the raw request credentials. Exactly one of the two
// fields is expected to be set; the key takes priority when both are.
type Credential struct {
	APIKey      string
	BearerToken string
}

// Account - identity resolved from a credential. KeyID is non-nil only
// when the request was authenticated with an opaque API-key.
type Account struct {
	UserID uuid.UUID
	KeyID  *uuid.UUID
}

//-------------------

// RemoveRequest - everything parsed from the multipart form.
// BgColor, RemoveColor and RemoveTolerance are accepted but not used by
// the compositing logic - reserved for a color-keying mode.
type RemoveRequest struct {
	Image           multipart.File
	ContentType     string
	SizeBytes       int64
	Format          OutputFormat
	BgColor         string
	RemoveColor     string
	RemoveTolerance *int
}

// RemoveResult - encoded output plus the metadata the handler puts into
// response headers. ContentType/Ext always describe the bytes actually
// produced, not the format the caller asked for.
type RemoveResult struct {
	UID         uuid.UUID
	Data        []byte
	ContentType string
	Ext         string
	ModelID     string
	ModelErrors []string
}

// UsageEvent - fire-and-forget accounting record published per
// key-authenticated request and drained by the usage worker.
type UsageEvent struct {
	KeyID uuid.UUID `json:"key_id"`
	At    time.Time `json:"at"`
}

// ------------------

var (
	ErrCommon500       error = errors.New("something went wrong. Try again later")                  // 500
	ErrUnauthenticated error = errors.New("missing or invalid credential")                          // 401
	ErrQuotaExceeded   error = errors.New("insufficient credits")                                   // 402
	ErrNoImage         error = errors.New("no image file provided")                                 // 400
	ErrBadFormat       error = errors.New("invalid format. Allowed: png, jpeg, webp")               // 400
	ErrBrokenImage     error = errors.New("image bytes could not be decoded")                       // 400
	ErrTooLarge        error = errors.New("file too large")                                         // 413
	ErrUnsupportedType error = errors.New("invalid file type. Only PNG, JPEG and WebP are allowed") // 415
	ErrIncorrectID     error = errors.New("incorrect result UUID")                                  // 400
	ErrResultNotFound  error = errors.New("no archived result for this id")                         // 404
)

//--------------------

const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	WEBP = "image/webp"
)

// InImageTypeMap - declared upload types the pipeline accepts. The
// declared type only routes the decode attempt, it proves nothing about
// the bytes.
var InImageTypeMap = map[string]bool{
	JPEG: true,
	PNG:  true,
	WEBP: true,
}

var GetImageFileExt = map[string]string{
	JPEG: ".jpg",
	PNG:  ".png",
	WEBP: ".webp",
}

// DefaultMaxUpload - upload ceiling used when MAX_UPLOAD_BYTES is unset.
const DefaultMaxUpload = 10 << 20
