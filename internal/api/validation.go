package api

import (
	"fmt"
	"strings"
)

// validateEvent rejects events the core must never see. A missing id is
// the transport's problem, not the state machine's.
func validateEvent(req EventRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}
