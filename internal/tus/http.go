package tus

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/abduss/tusdrive/internal/logger"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the upload collection and single-upload routes.
// Every method is routed to the handlers; the dispatcher decides what is
// allowed.
func RegisterRoutes(router gin.IRouter, service *Service) {
	handler := &httpHandler{service: service}
	base := "/" + service.UploadPath()
	router.Any(base, handler.collection)
	router.Any(base+"/:resourceID", handler.resource)
}

type httpHandler struct {
	service *Service
}

func (h *httpHandler) collection(c *gin.Context) {
	route, err := Dispatch(c.Request.Method, c.Request.Header)
	if route == RoutePreflight {
		c.Status(http.StatusOK)
		return
	}
	c.Header(HeaderResumable, Version)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	switch route {
	case RouteStatus:
		size, err := h.service.Status(ctx, c.Request.Header)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Header(HeaderUploadOffset, strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)

	case RouteExistence:
		found, err := h.service.Exists(ctx, c.Request.Header)
		if err != nil {
			h.fail(c, err)
			return
		}
		if found.Exists {
			c.Header(HeaderObjectName, found.ObjectName)
		}
		c.Header(HeaderObjectExists, strconv.FormatBool(found.Exists))
		c.Status(http.StatusOK)

	case RouteCapabilities:
		caps := h.service.Capabilities()
		c.Header(HeaderVersion, caps.Version)
		c.Header(HeaderExtension, strings.Join(caps.Extensions, ","))
		c.Header(HeaderMaxSize, strconv.FormatInt(caps.MaxSize, 10))
		c.Status(http.StatusNoContent)

	case RouteCreate:
		payload, err := h.readBody(c)
		if err != nil {
			h.fail(c, err)
			return
		}
		upload, err := h.service.Create(ctx, c.Request.Header, payload)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Header("Location", absoluteURL(c.Request, upload.Location))
		c.Header(HeaderTempObjectName, upload.ID)
		c.Header(HeaderUploadOffset, strconv.FormatInt(upload.Offset, 10))
		if upload.Length >= 0 {
			c.Header(HeaderUploadLength, strconv.FormatInt(upload.Length, 10))
		}
		c.Status(http.StatusCreated)
	}
}

func (h *httpHandler) resource(c *gin.Context) {
	route, err := DispatchChunk(c.Request.Method, c.Request.Header)
	if route == RoutePreflight {
		c.Status(http.StatusOK)
		return
	}
	c.Header(HeaderResumable, Version)
	c.Header(HeaderVersion, Version)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	resourceID := c.Param("resourceID")
	switch route {
	case RouteOffset:
		size, err := h.service.Offset(ctx, resourceID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Header(HeaderUploadOffset, strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)

	case RouteTerminate:
		if err := h.service.Terminate(ctx, resourceID); err != nil {
			h.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)

	case RouteAppend:
		chunk, err := h.readBody(c)
		if err != nil {
			h.fail(c, err)
			return
		}
		size, err := h.service.Append(ctx, resourceID, chunk)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Header(HeaderUploadOffset, strconv.FormatInt(size, 10))
		c.Status(http.StatusNoContent)
	}
}

// readBody reads the request body, refusing anything above the advertised
// maximum size.
func (h *httpHandler) readBody(c *gin.Context) ([]byte, error) {
	limit := h.service.Capabilities().MaxSize
	if c.Request.ContentLength > limit {
		return nil, ErrTooLarge
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrTooLarge
		}
		return nil, &ProtocolError{Kind: KindMalformedHeader, Msg: "read request body: " + err.Error()}
	}
	return data, nil
}

func (h *httpHandler) fail(c *gin.Context, err error) {
	var (
		conflict *ConflictError
		protoErr *ProtocolError
	)
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"message":    "Object with the same content already exists.",
			"objectname": conflict.ResourceID,
		})
	case errors.As(err, &protoErr):
		if protoErr.Kind == KindUnsupportedVersion {
			c.Header(HeaderVersion, Version)
		}
		if protoErr.Kind == KindMissingObjectName {
			c.String(http.StatusNotFound, protoErr.Msg)
			return
		}
		c.JSON(protocolStatus(protoErr.Kind), gin.H{"error": protoErr.Msg})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
	case errors.Is(err, ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds maximum size"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "internal error",
			"correlation_id": logger.CorrelationID(c),
		})
	}
}

func protocolStatus(kind ProtocolKind) int {
	switch kind {
	case KindUnsupportedMethod:
		return http.StatusMethodNotAllowed
	case KindUnsupportedProtocol, KindUnsupportedVersion:
		return http.StatusPreconditionFailed
	case KindMissingObjectName:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func absoluteURL(r *http.Request, location string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + location
}
