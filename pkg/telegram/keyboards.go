package telegram

import (
	"github.com/go-telegram/bot/models"

	"kassa/pkg/kassa"
)

// mainMenuKeyboard returns the persistent command menu.
func mainMenuKeyboard() models.ReplyMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{
				{Text: "/new"},
				{Text: "/bulk"},
			},
			{
				{Text: "/undo"},
				{Text: "/undo_bulk"},
			},
			{
				{Text: "/help"},
			},
		},
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}
}

// stepKeyboard returns suggestion buttons for a guided step: catalog values
// where the field has a closed vocabulary, plus navigation.
func stepKeyboard(step Step, cats kassa.Catalogs) models.ReplyMarkup {
	var options []string
	switch step {
	case StepObject:
		options = cats.Objects
	case StepKind:
		options = cats.Kinds
	case StepCategory:
		options = cats.Categories
	case StepPayment:
		options = cats.Payments
	case StepVAT:
		options = []string{kassa.VATYes, kassa.VATNo}
	case StepComment:
		options = []string{"-"}
	}

	buttons := make([][]models.KeyboardButton, 0, len(options)/2+2)
	for i := 0; i < len(options); i += 2 {
		row := []models.KeyboardButton{{Text: options[i]}}
		if i+1 < len(options) {
			row = append(row, models.KeyboardButton{Text: options[i+1]})
		}
		buttons = append(buttons, row)
	}
	buttons = append(buttons, []models.KeyboardButton{
		{Text: "/back"},
		{Text: "/cancel"},
	})

	return &models.ReplyKeyboardMarkup{
		Keyboard:        buttons,
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}
}

// bulkKeyboard returns the keyboard shown while collecting bulk items.
func bulkKeyboard() models.ReplyMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{
				{Text: "/done"},
				{Text: "/cancel"},
			},
		},
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}
}
