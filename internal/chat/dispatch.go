package chat

import (
	"github.com/chatdao/chatdao/internal/protocol"
	"github.com/chatdao/chatdao/internal/store"
	"github.com/chatdao/chatdao/internal/validate"
)

// dispatch routes one inbound envelope to the store or the roster and
// tells the observer what changed.
func (c *Client) dispatch(env protocol.Envelope) {
	switch ev := protocol.Classify(env).(type) {
	case protocol.RosterSnapshot:
		c.obs.RosterChanged(c.roster.Replace(ev.Users))

	case protocol.Posted:
		if !ev.Known {
			c.logger.Debug().Str("event", env.Event).Msg("unrecognized event shown as generic message")
		}
		msg, ok := c.store.Insert(messageFromEnvelope(ev.Envelope))
		if !ok {
			c.logger.Debug().Str("message_id", msg.ID).Msg("duplicate message ignored")
			return
		}
		c.obs.RenderMessage(msg)

	case protocol.Recalled:
		if c.store.Remove(ev.MessageID) {
			c.obs.MessageRecalled(ev.MessageID)
		}

	case protocol.HistoryMarker:
	}
}

func messageFromEnvelope(env protocol.Envelope) store.Message {
	msg := store.Message{
		ID:       env.MessageID,
		Author:   env.Name,
		Kind:     store.KindText,
		Event:    env.Event,
		Content:  env.Data,
		FileName: validate.SanitizeFileName(env.FileName),
	}
	if env.IsImage() {
		msg.Kind = store.KindImage
		return msg
	}
	msg.Content = validate.SanitizeText(env.Data)
	return msg
}
