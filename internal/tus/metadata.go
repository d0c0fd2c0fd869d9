package tus

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Metadata is the decoded form of the Upload-Metadata header.
type Metadata map[string]string

// DecodeMetadata parses a header of comma-separated "key base64(value)"
// pairs. Every pair must contain exactly one space; any malformed pair
// rejects the whole header. An empty header yields an empty map.
func DecodeMetadata(header string) (Metadata, error) {
	meta := Metadata{}
	if header == "" {
		return meta, nil
	}

	for _, pair := range strings.Split(header, ",") {
		parts := strings.Split(pair, " ")
		if len(parts) != 2 || parts[0] == "" {
			return nil, malformedMetadata("pair %q is not \"key value\"", pair)
		}

		value, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, malformedMetadata("value of %q is not base64: %v", parts[0], err)
		}
		if !utf8.Valid(value) {
			return nil, malformedMetadata("value of %q is not UTF-8", parts[0])
		}
		meta[parts[0]] = string(value)
	}
	return meta, nil
}

// EncodeMetadata renders meta as an Upload-Metadata header with keys in
// sorted order.
func EncodeMetadata(meta Metadata) (string, error) {
	keys := make([]string, 0, len(meta))
	for key := range meta {
		if key == "" || strings.ContainsAny(key, " ,") {
			return "", fmt.Errorf("metadata key %q must be non-empty and contain no space or comma", key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+" "+base64.StdEncoding.EncodeToString([]byte(meta[key])))
	}
	return strings.Join(pairs, ","), nil
}

func malformedMetadata(format string, args ...any) error {
	return &ProtocolError{
		Kind:   KindMalformedHeader,
		Header: HeaderUploadMetadata,
		Msg:    "malformed Upload-Metadata: " + fmt.Sprintf(format, args...),
	}
}
