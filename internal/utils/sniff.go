package utils

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ResolveContentType returns the declared type when present, otherwise the
// type detected from the leading bytes of the file.
func ResolveContentType(declared string, head []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(head).String()
}
