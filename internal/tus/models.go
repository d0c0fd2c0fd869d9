package tus

// Version is the only resumable-upload protocol version spoken.
const Version = "1.0.0"

// Protocol headers.
const (
	HeaderResumable         = "Tus-Resumable"
	HeaderVersion           = "Tus-Version"
	HeaderExtension         = "Tus-Extension"
	HeaderMaxSize           = "Tus-Max-Size"
	HeaderUploadOffset      = "Upload-Offset"
	HeaderUploadLength      = "Upload-Length"
	HeaderUploadDeferLength = "Upload-Defer-Length"
	HeaderUploadMetadata    = "Upload-Metadata"
	HeaderResourceID        = "Resource-ID"
	HeaderTempObjectName    = "Tus-Temp-Objectname"
	HeaderObjectName        = "Tus-Object-Name"
	HeaderObjectExists      = "Tus-Object-Exists"
	HeaderPreflight         = "Access-Control-Request-Method"
)

const (
	// DefaultMaxSize is the advertised Tus-Max-Size (50 GiB).
	DefaultMaxSize int64 = 50 * 1024 * 1024 * 1024
	// DefaultUploadPath prefixes the location of created uploads.
	DefaultUploadPath = "elixircloud/csh/v1/object"
	// MetadataObjectName is the metadata key naming an object in existence queries.
	MetadataObjectName = "objectname"
)

// Extensions lists the advertised protocol extensions. Expiration is
// advertised for client compatibility; uploads are never expired.
var Extensions = []string{"creation", "expiration", "termination"}

// Capabilities describes what the server advertises on OPTIONS.
type Capabilities struct {
	Version    string
	Extensions []string
	MaxSize    int64
}

// Upload is the result of a successful single-shot creation.
type Upload struct {
	ID       string
	Location string
	Offset   int64
	// Length is the client-declared Upload-Length, or -1 when not declared.
	Length   int64
	Metadata Metadata
}

// Existence is the result of an existence query.
type Existence struct {
	ObjectName string
	Exists     bool
}
