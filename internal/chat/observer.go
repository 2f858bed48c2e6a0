package chat

import (
	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/imagepipe"
	"github.com/chatdao/chatdao/internal/store"
)

// Observer is the presentation layer. Methods may be called from any
// goroutine and must not block for long.
type Observer interface {
	RenderMessage(store.Message)
	MessageRecalled(id string)
	MessagesCleared()
	SystemNotice(text string)
	RosterChanged(names []string)
	SessionStateChanged(conn.State)
	UploadStateChanged(imagepipe.State)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RenderMessage(store.Message)        {}
func (NopObserver) MessageRecalled(string)             {}
func (NopObserver) MessagesCleared()                   {}
func (NopObserver) SystemNotice(string)                {}
func (NopObserver) RosterChanged([]string)             {}
func (NopObserver) SessionStateChanged(conn.State)     {}
func (NopObserver) UploadStateChanged(imagepipe.State) {}
