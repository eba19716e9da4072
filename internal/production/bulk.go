package production

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/workshop-backend/pkg/errors"
)

// MaxBulkItems caps one bulk transition.
const MaxBulkItems = 500

// BulkTransitionInput moves every listed item to Stage in one transaction.
type BulkTransitionInput struct {
	OrderItemIDs []uuid.UUID
	Stage        enums.ProductionStage
	ActorUserID  uuid.UUID
}

// BulkResult is returned after a successful bulk transition.
type BulkResult struct {
	UpdatedCount int                `json:"updated"`
	Items        []models.OrderItem `json:"items"`
}

func (s *service) BulkTransition(ctx context.Context, input BulkTransitionInput) (*BulkResult, error) {
	if input.ActorUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Stage.IsValid() {
		return nil, invalidStage(input.Stage)
	}
	ids, err := normalizeIDs(input.OrderItemIDs)
	if err != nil {
		return nil, err
	}

	var (
		result  *BulkResult
		outcome *CompletionResult
	)
	actor := input.ActorUserID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		items, err := repo.FindItems(ctx, ids)
		if err != nil {
			return db.WrapStoreError(err, "load order items")
		}
		if missing := missingIDs(ids, items); len(missing) > 0 {
			return itemsNotFound(missing)
		}

		outcome, err = s.applyStage(ctx, tx, items, input.Stage, &actor)
		if err != nil {
			return err
		}

		refreshed, err := repo.LoadItems(ctx, ids)
		if err != nil {
			return db.WrapStoreError(err, "reload order items")
		}
		result = &BulkResult{UpdatedCount: len(refreshed), Items: refreshed}
		return nil
	})
	if err != nil {
		return nil, db.WrapStoreError(err, "bulk transition stage")
	}

	s.afterCommit(ctx, input.Stage, result.UpdatedCount, outcome)
	return result, nil
}

// normalizeIDs drops duplicates while keeping first-seen order.
func normalizeIDs(raw []uuid.UUID) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one order item id is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(raw))
	ids := make([]uuid.UUID, 0, len(raw))
	for _, id := range raw {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item ids must not be empty")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) > MaxBulkItems {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d order items per request", MaxBulkItems))
	}
	return ids, nil
}

func missingIDs(want []uuid.UUID, found []models.OrderItem) []uuid.UUID {
	have := make(map[uuid.UUID]struct{}, len(found))
	for _, item := range found {
		have[item.ID] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range want {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func itemsNotFound(missing []uuid.UUID) error {
	parts := make([]string, len(missing))
	for i, id := range missing {
		parts[i] = id.String()
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "order items not found: "+strings.Join(parts, ", ")).
		WithDetails(map[string]any{"missing_ids": parts})
}
