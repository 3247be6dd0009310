package proxy

import (
	"bytes"
	"strings"

	"github.com/standardbeagle/overrider/internal/proxy/scripts"
)

var agentMarker = []byte("data-overrider-agent")

// InjectAgent adds the page agent script tag to an HTML document. Bodies
// that already carry the tag are returned unchanged.
func InjectAgent(body []byte) []byte {
	if bytes.Contains(body, agentMarker) {
		return body
	}
	tag := []byte(scripts.Tag())

	// Before </head>
	if idx := indexFold(body, "</head>"); idx != -1 {
		return insertAt(body, idx, tag)
	}

	// After <head>
	if idx := indexFold(body, "<head>"); idx != -1 {
		return insertAt(body, idx+len("<head>"), tag)
	}

	// After the opening <body ...> or <html ...>
	for _, open := range []string{"<body", "<html"} {
		if idx := indexFold(body, open); idx != -1 {
			if end := bytes.IndexByte(body[idx:], '>'); end != -1 {
				return insertAt(body, idx+end+1, tag)
			}
		}
	}

	// Last resort: prepend
	return insertAt(body, 0, tag)
}

// ShouldInject determines if the agent should be injected based on content type.
func ShouldInject(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html")
}

func insertAt(body []byte, at int, tag []byte) []byte {
	result := make([]byte, 0, len(body)+len(tag))
	result = append(result, body[:at]...)
	result = append(result, tag...)
	result = append(result, body[at:]...)
	return result
}

func indexFold(body []byte, s string) int {
	return bytes.Index(bytes.ToLower(body), []byte(s))
}
