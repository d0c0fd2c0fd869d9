package tus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/abduss/tusdrive/internal/dedup"
	"github.com/abduss/tusdrive/internal/locks"
	"github.com/abduss/tusdrive/internal/logger"
	"github.com/abduss/tusdrive/internal/metrics"
	"github.com/abduss/tusdrive/internal/objectstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxStaleOwners bounds how many vanished owners one creation clears from
// the index before giving up.
const maxStaleOwners = 3

// Options tunes the engine.
type Options struct {
	Bucket     string
	UploadPath string
	MaxSize    int64
	// Overwrite disables duplicate detection.
	Overwrite bool
	// StatOffsets answers offset queries with a metadata lookup instead of
	// reading the whole object.
	StatOffsets bool
}

// Service is the upload engine. It keeps no per-upload state: the stored
// object is the upload.
type Service struct {
	store  objectstore.Store
	index  dedup.Index
	locks  locks.Locker
	writer Writer
	opts   Options
}

// NewService constructs the engine. A nil index falls back to scanning the
// bucket, a nil locker to in-process locks and a nil writer to the
// store-native append writer.
func NewService(store objectstore.Store, index dedup.Index, locker locks.Locker, writer Writer, opts Options) *Service {
	if opts.UploadPath == "" {
		opts.UploadPath = DefaultUploadPath
	}
	opts.UploadPath = strings.Trim(opts.UploadPath, "/")
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if index == nil {
		index = dedup.NewScan(store, opts.Bucket)
	}
	if locker == nil {
		locker = locks.NewLocal()
	}
	if writer == nil {
		writer = NewAppendWriter(store)
	}
	return &Service{
		store:  store,
		index:  index,
		locks:  locker,
		writer: writer,
		opts:   opts,
	}
}

// UploadPath returns the collection path without surrounding slashes.
func (s *Service) UploadPath() string {
	return s.opts.UploadPath
}

// Capabilities reports what the server advertises.
func (s *Service) Capabilities() Capabilities {
	return Capabilities{
		Version:    Version,
		Extensions: append([]string(nil), Extensions...),
		MaxSize:    s.opts.MaxSize,
	}
}

// Status returns the stored size of the upload named by the Resource-ID
// header.
func (s *Service) Status(ctx context.Context, header http.Header) (int64, error) {
	resourceID := header.Get(HeaderResourceID)
	if resourceID == "" {
		return 0, &ProtocolError{
			Kind:   KindMissingHeader,
			Header: HeaderResourceID,
			Msg:    "Resource-ID header is required",
		}
	}

	size, err := s.store.Stat(ctx, s.opts.Bucket, resourceID)
	if err != nil {
		return 0, s.storeFailure(ctx, "stat", resourceID, err)
	}
	return size, nil
}

// Exists reports whether the object named in the objectname metadata entry
// is stored.
func (s *Service) Exists(ctx context.Context, header http.Header) (Existence, error) {
	meta, err := DecodeMetadata(header.Get(HeaderUploadMetadata))
	if err != nil {
		return Existence{}, err
	}
	name, ok := meta[MetadataObjectName]
	if !ok || name == "" {
		return Existence{}, ErrMissingObjectName
	}
	if objectstore.IsStaging(name) {
		return Existence{ObjectName: name, Exists: false}, nil
	}

	_, err = s.store.Stat(ctx, s.opts.Bucket, name)
	switch {
	case err == nil:
		return Existence{ObjectName: name, Exists: true}, nil
	case objectstore.IsNotFound(err):
		return Existence{ObjectName: name, Exists: false}, nil
	default:
		return Existence{}, s.storeFailure(ctx, "stat", name, err)
	}
}

// Create stores payload as a new upload. Unless overwrite is enabled, content
// identical to an existing upload is rejected with a *ConflictError naming
// the existing resource.
func (s *Service) Create(ctx context.Context, header http.Header, payload []byte) (Upload, error) {
	meta, err := DecodeMetadata(header.Get(HeaderUploadMetadata))
	if err != nil {
		return Upload{}, err
	}
	length, err := parseUploadLength(header)
	if err != nil {
		return Upload{}, err
	}
	if int64(len(payload)) > s.opts.MaxSize {
		return Upload{}, ErrTooLarge
	}

	resourceID := uuid.NewString()
	log := logger.FromContext(ctx).With(zap.String("resource_id", resourceID))

	unlock, err := s.locks.Lock(ctx, resourceID)
	if err != nil {
		return Upload{}, fmt.Errorf("lock %s: %w", resourceID, err)
	}
	defer unlock()

	var digest string
	if !s.opts.Overwrite {
		digest = dedup.Digest(payload)
		if err := s.reserve(ctx, digest, resourceID); err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				metrics.UploadConflicts.Inc()
				log.Info("duplicate upload rejected", zap.String("existing", conflict.ResourceID))
			}
			return Upload{}, err
		}
	}

	if err := s.store.Put(ctx, s.opts.Bucket, resourceID, payload); err != nil {
		if digest != "" {
			if relErr := s.index.Release(ctx, digest, resourceID); relErr != nil {
				log.Warn("release reservation after failed write", zap.Error(relErr))
			}
		}
		return Upload{}, s.storeFailure(ctx, "put", resourceID, err)
	}

	if digest != "" {
		if err := s.index.Commit(ctx, digest, resourceID); err != nil {
			log.Warn("commit reservation", zap.Error(err))
		}
	}

	metrics.UploadsCreated.Inc()
	metrics.BytesAppended.Add(float64(len(payload)))
	log.Info("upload created", zap.Int("size", len(payload)))

	return Upload{
		ID:       resourceID,
		Location: s.Location(resourceID),
		Offset:   int64(len(payload)),
		Length:   length,
		Metadata: meta,
	}, nil
}

// Offset returns the number of bytes stored for resourceID.
func (s *Service) Offset(ctx context.Context, resourceID string) (int64, error) {
	if s.opts.StatOffsets {
		size, err := s.store.Stat(ctx, s.opts.Bucket, resourceID)
		if err != nil {
			return 0, s.storeFailure(ctx, "stat", resourceID, err)
		}
		return size, nil
	}

	data, err := s.store.Get(ctx, s.opts.Bucket, resourceID)
	if err != nil {
		return 0, s.storeFailure(ctx, "get", resourceID, err)
	}
	return int64(len(data)), nil
}

// Append adds chunk to the end of resourceID, creating the upload when it
// does not exist, and returns the new offset.
func (s *Service) Append(ctx context.Context, resourceID string, chunk []byte) (int64, error) {
	unlock, err := s.locks.Lock(ctx, resourceID)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", resourceID, err)
	}
	defer unlock()

	size, err := s.writer.Append(ctx, s.opts.Bucket, resourceID, chunk)
	if err != nil {
		return 0, s.storeFailure(ctx, "append", resourceID, err)
	}
	s.reindex(ctx, resourceID)

	metrics.BytesAppended.Add(float64(len(chunk)))
	return size, nil
}

// Terminate removes resourceID. Removing a missing upload succeeds.
func (s *Service) Terminate(ctx context.Context, resourceID string) error {
	unlock, err := s.locks.Lock(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("lock %s: %w", resourceID, err)
	}
	defer unlock()

	if err := s.store.Remove(ctx, s.opts.Bucket, resourceID); err != nil && !objectstore.IsNotFound(err) {
		return s.storeFailure(ctx, "remove", resourceID, err)
	}
	s.forget(ctx, resourceID)

	metrics.UploadsTerminated.Inc()
	logger.FromContext(ctx).Info("upload terminated", zap.String("resource_id", resourceID))
	return nil
}

// Location returns the absolute path of resourceID on this server.
func (s *Service) Location(resourceID string) string {
	return path.Join("/", s.opts.UploadPath, resourceID)
}

// reserve claims digest for resourceID. An owner recorded in the index whose
// object no longer exists is released and the reservation retried.
func (s *Service) reserve(ctx context.Context, digest, resourceID string) error {
	for i := 0; i < maxStaleOwners; i++ {
		owner, err := s.index.Reserve(ctx, digest, resourceID)
		if err != nil {
			return s.storeFailure(ctx, "dedup reserve", resourceID, err)
		}
		if owner == "" {
			return nil
		}

		exists, err := s.ownerExists(ctx, owner)
		if err != nil {
			return err
		}
		if exists {
			return &ConflictError{ResourceID: owner}
		}

		logger.FromContext(ctx).Warn("dropping stale index entry",
			zap.String("resource_id", resourceID),
			zap.String("stale_owner", owner))
		if err := s.index.Release(ctx, digest, owner); err != nil {
			return s.storeFailure(ctx, "dedup release", owner, err)
		}
	}
	return s.storeFailure(ctx, "dedup reserve", resourceID,
		fmt.Errorf("digest still owned after clearing %d stale entries", maxStaleOwners))
}

// ownerExists waits for any in-flight mutation of owner to finish before
// checking the store, so a concurrent creation that has reserved but not
// yet written is not mistaken for a stale entry.
func (s *Service) ownerExists(ctx context.Context, owner string) (bool, error) {
	unlock, err := s.locks.Lock(ctx, owner)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", owner, err)
	}
	defer unlock()

	_, err = s.store.Stat(ctx, s.opts.Bucket, owner)
	switch {
	case err == nil:
		return true, nil
	case objectstore.IsNotFound(err):
		return false, nil
	default:
		return false, s.storeFailure(ctx, "stat", owner, err)
	}
}

// reindex records the content resourceID holds after an append. Indexes
// without their own copy of the relation only need the old entry dropped.
// Callers hold the resource lock.
func (s *Service) reindex(ctx context.Context, resourceID string) {
	if s.opts.Overwrite {
		return
	}
	recorder, ok := s.index.(dedup.Recorder)
	if !ok {
		s.forget(ctx, resourceID)
		return
	}

	log := logger.FromContext(ctx).With(zap.String("resource_id", resourceID))
	data, err := s.store.Get(ctx, s.opts.Bucket, resourceID)
	if err != nil {
		log.Warn("read upload for reindexing", zap.Error(err))
		s.forget(ctx, resourceID)
		return
	}
	if err := recorder.Record(ctx, dedup.Digest(data), resourceID); err != nil {
		log.Warn("record index entry", zap.Error(err))
		s.forget(ctx, resourceID)
	}
}

func (s *Service) forget(ctx context.Context, resourceID string) {
	if s.opts.Overwrite {
		return
	}
	if err := s.index.Forget(ctx, resourceID); err != nil {
		logger.FromContext(ctx).Warn("forget index entry",
			zap.String("resource_id", resourceID), zap.Error(err))
	}
}

// storeFailure classifies err: not-found becomes ErrNotFound, anything else
// is logged and wrapped in a *StoreError.
func (s *Service) storeFailure(ctx context.Context, op, resourceID string, err error) error {
	if objectstore.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}

	metrics.StoreErrors.WithLabelValues(op).Inc()
	logger.FromContext(ctx).Error("object store failure",
		zap.String("op", op),
		zap.String("resource_id", resourceID),
		zap.String("bucket", s.opts.Bucket),
		zap.Error(err))
	return &StoreError{Op: op, ResourceID: resourceID, Err: err}
}

// parseUploadLength returns the declared Upload-Length, or -1 when absent.
func parseUploadLength(header http.Header) (int64, error) {
	raw := header.Get(HeaderUploadLength)
	if raw == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, &ProtocolError{
			Kind:   KindMalformedHeader,
			Header: HeaderUploadLength,
			Msg:    fmt.Sprintf("invalid Upload-Length %q", raw),
		}
	}
	return n, nil
}
