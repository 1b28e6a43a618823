package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/haggle/backend/internal/core"
	"github.com/haggle/backend/internal/store"
)

const maxEventPage = 200

// HandleListEvents is the polling fallback for clients without a live
// stream: returns events with seq greater than the cursor, oldest first,
// plus the cursor to poll from next.
func HandleListEvents(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var after int64
		if raw := q.Get("after"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				writeError(w, fmt.Errorf("after must be a non-negative integer: %w", core.ErrValidation))
				return
			}
			after = parsed
		}

		limit := 50
		if raw := q.Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, fmt.Errorf("limit must be a positive integer: %w", core.ErrValidation))
				return
			}
			limit = parsed
		}
		if limit > maxEventPage {
			limit = maxEventPage
		}

		list, err := st.ListEventsAfter(r.Context(), after, q.Get("negotiation_id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}

		// Same envelope the websocket stream uses, so clients parse one shape.
		envelopes := make([]map[string]interface{}, 0, len(list))
		for i := range list {
			envelopes = append(envelopes, map[string]interface{}{
				"type":  "event",
				"event": list[i],
			})
		}

		next := after
		if len(list) > 0 {
			next = list[len(list)-1].Seq
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events": envelopes,
			"next":   next,
		})
	}
}
