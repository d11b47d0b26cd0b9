package notifier

import (
	"context"
	"fmt"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
)

var _ sectionsense.EventHandler = Dispatcher{}

// Dispatcher turns checker events into messages for the account owner
type Dispatcher struct {
	messenger sectionsense.Messenger
}

func NewDispatcher(m sectionsense.Messenger) Dispatcher {
	return Dispatcher{m}
}

func (d Dispatcher) Handle(ctx context.Context, event sectionsense.Event) error {
	var text string
	switch event.Kind {
	case sectionsense.EventSectionsAdded:
		text = FormatAdded(event.Sections)
	case sectionsense.EventSectionsRemoved:
		text = FormatRemoved(event.Sections)
	case sectionsense.EventCheckFailed:
		text = FormatFailure(event.Err)
	default:
		return fmt.Errorf("unsupported event kind %s", event.Kind)
	}

	if err := SendChunked(ctx, d.messenger, event.AccountID, text); err != nil {
		return fmt.Errorf("failed to notify %s of %s: %w", event.AccountID, event.Kind, err)
	}

	return nil
}
