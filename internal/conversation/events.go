package conversation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Source identifies who sent an inbound event to which store
type Source struct {
	StoreID    string
	UserID     string
	ReplyToken string
	Timestamp  time.Time
}

// InboundEvent is one of TextMessage, ImageMessage or Postback
type InboundEvent interface {
	From() Source
	isInboundEvent()
}

type TextMessage struct {
	Source
	Text string
}

// ImageMessage carries the platform id of an uploaded image
type ImageMessage struct {
	Source
	MessageID string
}

// Postback is a button press. Action is the value of the "action" field of
// the postback data, or the whole data when it is a bare word.
type Postback struct {
	Source
	Action string
	Params url.Values
}

func (s Source) From() Source { return s }

func (TextMessage) isInboundEvent()  {}
func (ImageMessage) isInboundEvent() {}
func (Postback) isInboundEvent()     {}

// Postback actions
const (
	ActionConfirm   = "confirm"
	ActionCancel    = "cancel"
	ActionShowCart  = "show_cart"
	ActionCallStaff = "call_staff"
	ActionResumeBot = "resume_bot"
)

type webhookBody struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Timestamp  int64  `json:"timestamp"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"message"`
	Postback *struct {
		Data string `json:"data"`
	} `json:"postback"`
}

// DecodeWebhook parses a messaging-platform webhook body. Events of kinds the
// bot does not handle, and events without a user, are skipped.
func DecodeWebhook(body []byte, storeID string) ([]InboundEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	events := make([]InboundEvent, 0, len(wb.Events))
	for _, e := range wb.Events {
		if e.Source.UserID == "" {
			continue
		}
		src := Source{
			StoreID:    storeID,
			UserID:     e.Source.UserID,
			ReplyToken: e.ReplyToken,
			Timestamp:  time.UnixMilli(e.Timestamp),
		}

		switch {
		case e.Type == "message" && e.Message != nil && e.Message.Type == "text":
			events = append(events, TextMessage{Source: src, Text: e.Message.Text})
		case e.Type == "message" && e.Message != nil && e.Message.Type == "image":
			events = append(events, ImageMessage{Source: src, MessageID: e.Message.ID})
		case e.Type == "postback" && e.Postback != nil:
			action, params := parsePostback(e.Postback.Data)
			events = append(events, Postback{Source: src, Action: action, Params: params})
		}
	}
	return events, nil
}

func parsePostback(data string) (string, url.Values) {
	data = strings.TrimSpace(data)
	if !strings.Contains(data, "=") {
		return data, url.Values{}
	}
	params, err := url.ParseQuery(data)
	if err != nil {
		return "", url.Values{}
	}
	return params.Get("action"), params
}
