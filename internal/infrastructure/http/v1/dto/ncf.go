package dto

// GenerateNCFRequest asks for the next number of a type.
type GenerateNCFRequest struct {
	ComprobanteTypeID int64 `json:"comprobanteTypeId" binding:"required,min=1"`
}
