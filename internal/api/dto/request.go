package dto

import "github.com/google/uuid"

type StartRunRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

type StartRunResponse struct {
	ID uuid.UUID `json:"id"`
}

type GenerateImagesRequest struct {
	LookIDs []uuid.UUID `json:"look_ids" binding:"required,min=1,max=50"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
