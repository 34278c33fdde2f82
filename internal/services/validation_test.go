package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type withdrawalPayload struct {
	Network string          `validate:"required,oneof=TRC20 ERC20 BEP20 POLYGON SOLANA"`
	Address string          `validate:"required,min=26"`
	Amount  decimal.Decimal `validate:"required,positive"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		valid := withdrawalPayload{
			Network: "TRC20",
			Address: "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8",
			Amount:  decimal.RequireFromString("12.5"),
		}
		assert.NoError(t, vh.ValidateStruct(&valid))
	})

	t.Run("missing required fields", func(t *testing.T) {
		err := vh.ValidateStruct(&withdrawalPayload{})
		require.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		assert.Len(t, validationErrors, 3)
	})

	t.Run("negative decimal", func(t *testing.T) {
		invalid := withdrawalPayload{
			Network: "ERC20",
			Address: "0x52908400098527886E0F7030069857D2E4169EE7",
			Amount:  decimal.RequireFromString("-3"),
		}

		err := vh.ValidateStruct(&invalid)
		require.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		require.Len(t, validationErrors, 1)
		assert.Equal(t, "Amount", validationErrors[0].Field())
		assert.Equal(t, "positive", validationErrors[0].Tag())
	})

	t.Run("unknown network", func(t *testing.T) {
		invalid := withdrawalPayload{
			Network: "DOGE",
			Address: "0x52908400098527886E0F7030069857D2E4169EE7",
			Amount:  decimal.NewFromInt(1),
		}

		err := vh.ValidateStruct(&invalid)
		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		assert.Equal(t, "oneof", validationErrors[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		validationErr := vh.ValidateStruct(&withdrawalPayload{Network: "TRC20"})
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "Address")
		assert.Contains(t, response.Details, "Amount")
		assert.NotContains(t, response.Details, "Network")
	})
}
