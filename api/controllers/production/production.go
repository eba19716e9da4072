package production

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/workshop-backend/api/middleware"
	"github.com/angelmondragon/workshop-backend/api/responses"
	"github.com/angelmondragon/workshop-backend/api/validators"
	internalproduction "github.com/angelmondragon/workshop-backend/internal/production"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/workshop-backend/pkg/errors"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
)

type stageRequest struct {
	Stage string `json:"stage" validate:"required"`
}

type bulkStageRequest struct {
	ItemIDs []uuid.UUID `json:"item_ids" validate:"required,min=1,max=500"`
	Stage   string      `json:"stage" validate:"required"`
}

// TransitionStage moves one order item to the requested stage.
func TransitionStage(svc internalproduction.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "production service unavailable"))
			return
		}

		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req stageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.TransitionStage(r.Context(), internalproduction.TransitionInput{
			OrderItemID: itemID,
			Stage:       enums.ProductionStage(strings.TrimSpace(req.Stage)),
			ActorUserID: middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}

// BulkTransition moves every listed item in one all-or-nothing transaction.
func BulkTransition(svc internalproduction.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "production service unavailable"))
			return
		}

		actor := middleware.ActorIDFromContext(r.Context())
		if actor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		var req bulkStageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.BulkTransition(r.Context(), internalproduction.BulkTransitionInput{
			OrderItemIDs: req.ItemIDs,
			Stage:        enums.ProductionStage(strings.TrimSpace(req.Stage)),
			ActorUserID:  *actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
