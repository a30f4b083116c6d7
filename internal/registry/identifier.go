package registry

import (
	"strings"

	"github.com/dupdatesystem/getter-go/internal/apperror"
)

// Identifier is the composite app_id::hub_id naming a tracked app.
type Identifier struct {
	AppID string
	HubID string
}

// ParseIdentifier parses "app_id::hub_id", failing on zero or more than
// one "::" separator.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 2 {
		return Identifier{}, apperror.New(apperror.KindInvalidInput, "identifier must have the form app_id::hub_id")
	}
	if parts[0] == "" || parts[1] == "" {
		return Identifier{}, apperror.New(apperror.KindInvalidInput, "identifier app_id and hub_id must be non-empty")
	}
	return Identifier{AppID: parts[0], HubID: parts[1]}, nil
}

// String renders the identifier as app_id::hub_id.
func (id Identifier) String() string {
	return id.AppID + "::" + id.HubID
}
