package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// CooldownHeader overrides the cooldown period on schema deletion.
const CooldownHeader = "cooldown-duration-seconds"

// ParseSchemaID extracts and validates the schema ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseSchemaID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_schema_id", "Invalid schema ID format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// ParseLabelsParam parses a label filter of the form "a=b,c". A label with
// no value ("c" or "c=") only has to be present. Blank entries are ignored.
func ParseLabelsParam(raw string) models.Labels {
	labels := models.Labels{}
	for _, entry := range strings.Split(raw, ",") {
		name, value, hasValue := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		// Only the text up to a second "=" counts as the value.
		value, _, _ = strings.Cut(value, "=")
		value = strings.TrimSpace(value)
		if !hasValue || value == "" {
			labels[name] = nil
			continue
		}
		labels[name] = models.StringPtr(value)
	}
	return labels
}

// parseCooldownHeader reads the optional cooldown override. A missing header
// yields nil so the instance default applies.
func parseCooldownHeader(r *http.Request) (*time.Duration, error) {
	raw := strings.TrimSpace(r.Header.Get(CooldownHeader))
	if raw == "" {
		return nil, nil
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return nil, fmt.Errorf("%s must be a non-negative number of seconds", CooldownHeader)
	}
	d := time.Duration(seconds) * time.Second
	return &d, nil
}
