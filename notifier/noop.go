package notifier

import (
	"context"
	"unicode/utf8"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/rs/zerolog/log"
)

var _ sectionsense.Messenger = Noop{}

// Noop drops every message. Used when no transport is configured, the HTTP API still returns results directly.
type Noop struct {
}

func NewNoop() Noop {
	return Noop{}
}

func (n Noop) Send(ctx context.Context, id string, text string) error {
	log.Debug().Str("module", "notifier").Str("account", id).Int("length", utf8.RuneCountInString(text)).Msg("dropping message, no transport configured")
	return nil
}
