package message

import (
	"errors"
	"fmt"
)

type Messenger interface {
	Send(int64, string)
}

// NewSender returns the configured notification channel. An empty name
// disables notifications instead of failing, persistence must never block
// on a missing messenger config.
func NewSender(name string, data map[string]interface{}) (m Messenger, err error) {
	switch name {
	case "":
		return &Noop{}, nil
	case "telegram":
		token, ok := data["token"].(string)
		if !ok {
			err = errors.New("'token' is missing")
			return
		}
		return newTelegram(token)
	}
	err = fmt.Errorf("sender '%s' not supported", name)
	return
}

type Noop struct{}

func (n *Noop) Send(chatId int64, text string) {}
