package middleware

import (
	"net/http"

	apierrors "github.com/kraklabs/lora-orchestrator/internal/api/errors"
	"github.com/kraklabs/lora-orchestrator/internal/handle"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
)

// RequireUserID rejects requests missing the x_user_id header with 422,
// and never admits the reserved base sentinel as a caller identity.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" || userID == handle.BaseSentinel {
			requestID := logger.RequestID(r.Context())
			apierrors.Write(w, apierrors.MissingUserHeader().WithRequestID(requestID))
			return
		}

		ctx := logger.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID extracts the validated user id RequireUserID already placed on the
// request context.
func UserID(r *http.Request) string {
	return logger.UserIDFromContext(r.Context())
}
