package formatter

import (
	"encoding/json"

	"github.com/go-telegram/bot/models"
)

// Callback actions
const (
	CallbackIngest = "ingest"
	CallbackStatus = "status"
)

// CallbackData is the payload of an inline button
type CallbackData struct {
	Action string `json:"a"`
}

// BuildControlKeyboard creates the inline keyboard attached to run summaries and status replies
func BuildControlKeyboard(inProgress bool) *models.InlineKeyboardMarkup {
	var row []models.InlineKeyboardButton

	if !inProgress {
		row = append(row, models.InlineKeyboardButton{
			Text:         "Запустить",
			CallbackData: EncodeCallback(CallbackData{Action: CallbackIngest}),
		})
	}
	row = append(row, models.InlineKeyboardButton{
		Text:         "Обновить статус",
		CallbackData: EncodeCallback(CallbackData{Action: CallbackStatus}),
	})

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{row},
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (CallbackData, error) {
	var cb CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
