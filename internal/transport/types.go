package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline keyboard button. Data travels back in a Callback.
type Button struct {
	Text string
	Data string
}

// Keyboard is rendered by the adapter into its native inline markup.
// Each inner slice is one row.
type Keyboard [][]Button

type SendOptions struct {
	ParseMode      string // "HTML" or empty
	DisablePreview bool
	Keyboard       Keyboard
}

// Document is a small file payload sent as an attachment (e.g. an .ics export).
type Document struct {
	Name string
	MIME string
	Data []byte
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, doc Document, caption string) error
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
