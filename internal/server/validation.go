package server

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	blobIDRegex    = regexp.MustCompile(`^bl-[0-9a-f]{32}$`)
	messageIDRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

func validateBlobID(id string) bool {
	return blobIDRegex.MatchString(id)
}

// validateMessageID accepts lowercase canonical UUIDs.
func validateMessageID(id string) bool {
	return messageIDRegex.MatchString(id)
}

func requireBlobID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("id"))
	if !validateBlobID(id) {
		return "", badRequestCode(fmt.Errorf("invalid blob id"), ErrCodeInvalidID)
	}
	return id, nil
}
