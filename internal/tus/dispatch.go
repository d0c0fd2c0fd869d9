package tus

import (
	"fmt"
	"net/http"
)

// Route is the operation a request resolves to.
type Route int

const (
	RouteUnknown Route = iota
	RouteStatus
	RouteExistence
	RoutePreflight
	RouteCapabilities
	RouteCreate
	RouteOffset
	RouteTerminate
	RouteAppend
)

var routeNames = map[Route]string{
	RouteUnknown:      "unknown",
	RouteStatus:       "status",
	RouteExistence:    "existence",
	RoutePreflight:    "preflight",
	RouteCapabilities: "capabilities",
	RouteCreate:       "create",
	RouteOffset:       "offset",
	RouteTerminate:    "terminate",
	RouteAppend:       "append",
}

func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("route(%d)", int(r))
}

// Dispatch resolves a request against the upload collection. Status and
// existence queries are served without the protocol marker; everything
// else requires Tus-Resumable set to Version, except CORS preflight.
func Dispatch(method string, header http.Header) (Route, error) {
	switch method {
	case http.MethodHead:
		return RouteStatus, nil
	case http.MethodGet:
		return RouteExistence, nil
	}

	if method == http.MethodOptions && header.Get(HeaderPreflight) != "" {
		return RoutePreflight, nil
	}

	marker := header.Get(HeaderResumable)
	if marker == "" {
		return RouteUnknown, unsupported(KindUnsupportedProtocol, "unsupported protocol or method")
	}
	if marker != Version {
		return RouteUnknown, unsupported(KindUnsupportedVersion,
			fmt.Sprintf("unsupported protocol version %q", marker))
	}

	switch method {
	case http.MethodOptions:
		return RouteCapabilities, nil
	case http.MethodPost, http.MethodPut:
		return RouteCreate, nil
	default:
		return RouteUnknown, unsupported(KindUnsupportedMethod, "unsupported protocol or method")
	}
}

// DispatchChunk resolves a request against a single upload. The protocol
// marker is optional here; when present it must match Version.
func DispatchChunk(method string, header http.Header) (Route, error) {
	if method == http.MethodOptions && header.Get(HeaderPreflight) != "" {
		return RoutePreflight, nil
	}

	if marker := header.Get(HeaderResumable); marker != "" && marker != Version {
		return RouteUnknown, unsupported(KindUnsupportedVersion,
			fmt.Sprintf("unsupported protocol version %q", marker))
	}

	switch method {
	case http.MethodHead:
		return RouteOffset, nil
	case http.MethodDelete:
		return RouteTerminate, nil
	case http.MethodPatch:
		return RouteAppend, nil
	default:
		return RouteUnknown, unsupported(KindUnsupportedMethod,
			fmt.Sprintf("method %s not allowed on an upload", method))
	}
}
